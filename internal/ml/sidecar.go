package ml

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"churn-api/internal/features"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const sidecarScriptName = "churn_inference.py"

type sidecarRequest struct {
	Features []float64 `json:"features"`
}

type sidecarResponse struct {
	Probabilities []float64 `json:"probabilities"`
	Error         string    `json:"error,omitempty"`
}

// sidecar evaluates pickled scikit-learn or ONNX models with a Python
// subprocess per call. The subprocess gets one JSON request on stdin and
// answers with the class probabilities on stdout.
type sidecar struct {
	modelPath  string
	pythonPath string
	scriptPath string
	timeout    time.Duration
}

func newSidecar(modelPath, pythonPath string, timeout time.Duration) (*sidecar, error) {
	if pythonPath == "" {
		var err error
		pythonPath, err = findPython()
		if err != nil {
			return nil, err
		}
	}

	scriptPath, err := ensureScript(modelPath)
	if err != nil {
		return nil, err
	}

	s := &sidecar{
		modelPath:  modelPath,
		pythonPath: pythonPath,
		scriptPath: scriptPath,
		timeout:    timeout,
	}

	// Fail at startup rather than on the first request.
	var zero features.Vector
	if _, err := s.Probability(zero); err != nil {
		return nil, fmt.Errorf("sidecar health check failed: %w", err)
	}

	log.Info().
		Str("python_path", pythonPath).
		Str("script_path", scriptPath).
		Dur("timeout", timeout).
		Msg("Python sidecar ready")
	return s, nil
}

func (s *sidecar) Probability(v features.Vector) (float64, error) {
	reqJSON, err := json.Marshal(sidecarRequest{Features: v.Slice()})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.pythonPath, s.scriptPath, s.modelPath)
	cmd.Stdin = bytes.NewReader(reqJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w after %v", ErrInferenceTimeout, s.timeout)
		}
		log.Error().
			Err(err).
			Str("python_path", s.pythonPath).
			Str("model_path", s.modelPath).
			Str("stderr", stderr.String()).
			Msg("Python inference execution failed")
		return 0, fmt.Errorf("python inference failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp sidecarResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w, stdout: %s", err, stdout.String())
	}
	if resp.Error != "" {
		return 0, fmt.Errorf("python inference error: %s", resp.Error)
	}
	if len(resp.Probabilities) != 2 {
		return 0, fmt.Errorf("expected 2 probabilities, got %d", len(resp.Probabilities))
	}

	return resp.Probabilities[1], nil
}

// ensureScript writes the inference script next to the model, or into the
// temp dir when the model directory is read-only.
func ensureScript(modelPath string) (string, error) {
	candidates := []string{
		filepath.Join(filepath.Dir(modelPath), sidecarScriptName),
		filepath.Join(os.TempDir(), sidecarScriptName),
	}

	var lastErr error
	for _, path := range candidates {
		if existing, err := os.ReadFile(path); err == nil && string(existing) == inferenceScript {
			return path, nil
		}
		if err := os.WriteFile(path, []byte(inferenceScript), 0o755); err != nil {
			lastErr = err
			continue
		}
		return path, nil
	}
	return "", fmt.Errorf("failed to create inference script: %w", lastErr)
}

func findPython() (string, error) {
	var candidates []string

	if venvPath := os.Getenv("VIRTUAL_ENV"); venvPath != "" {
		candidates = append(candidates,
			filepath.Join(venvPath, "bin", "python3"),
			filepath.Join(venvPath, "bin", "python"),
			filepath.Join(venvPath, "Scripts", "python.exe"),
		)
	}

	if execPath, err := os.Executable(); err == nil {
		execDir := filepath.Dir(execPath)
		for _, root := range []string{execDir, filepath.Dir(execDir)} {
			candidates = append(candidates,
				filepath.Join(root, "venv", "bin", "python3"),
				filepath.Join(root, ".venv", "bin", "python3"),
			)
		}
	}

	for _, name := range []string{"python3", "python"} {
		if path, err := exec.LookPath(name); err == nil {
			candidates = append(candidates, path)
		}
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cmd := exec.Command(path, "-c", "import sys; exit(0 if sys.version_info[0] == 3 else 1)")
		if err := cmd.Run(); err == nil {
			log.Info().Str("python_path", path).Msg("Using Python interpreter for model sidecar")
			return path, nil
		}
	}

	return "", fmt.Errorf("no suitable Python 3 executable found; set PYTHON_PATH")
}

const inferenceScript = `#!/usr/bin/env python3
import json
import sys


def load_probabilities(model_path, row):
    if model_path.endswith(".onnx"):
        import numpy as np
        import onnxruntime as ort

        session = ort.InferenceSession(model_path)
        name = session.get_inputs()[0].name
        outputs = session.run(None, {name: np.array([row], dtype=np.float32)})
        probs = outputs[-1]
        if isinstance(probs, list):
            first = probs[0]
            return [float(first.get(0, first.get("0", 0.0))), float(first.get(1, first.get("1", 0.0)))]
        return [float(x) for x in probs[0]]

    import joblib

    model = joblib.load(model_path)
    return [float(x) for x in model.predict_proba([row])[0]]


def main():
    if len(sys.argv) != 2:
        print(json.dumps({"error": "usage: churn_inference.py <model_path>"}))
        sys.exit(1)
    try:
        request = json.load(sys.stdin)
        probs = load_probabilities(sys.argv[1], request["features"])
        print(json.dumps({"probabilities": probs}))
    except Exception as exc:
        print(json.dumps({"error": str(exc)}))


if __name__ == "__main__":
    main()
`
