package ml

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"churn-api/internal/features"

	"github.com/rs/zerolog/log"
)

// MetricsInterface defines metrics methods needed by the predictor
type MetricsInterface interface {
	MLPredictionsInc()
	MLFailuresInc()
	MLTimeoutsInc()
	MLLatencyObserve(float64)
	MLPredictionScoresObserve(float64)
	MLModelLoadedSet(bool)
}

// Options configures how a model artifact is loaded.
type Options struct {
	ModelPath  string
	PythonPath string        // sidecar interpreter; autodetected when empty
	Timeout    time.Duration // per-call sidecar timeout
	Metrics    MetricsInterface
}

// Predictor is the model adapter. It is safe for concurrent use: the model is
// fixed after construction.
type Predictor struct {
	model   Model
	info    Info
	metrics MetricsInterface
}

// Load builds a predictor from the artifact at opts.ModelPath. It never fails:
// a missing or broken artifact yields a predictor that reports itself unavailable.
func Load(opts Options) *Predictor {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	p := &Predictor{
		info: Info{
			Path:     opts.ModelPath,
			Features: features.Names(),
		},
		metrics: opts.Metrics,
	}

	model, kind, version, err := openModel(opts)
	if err != nil {
		log.Error().Err(err).Str("model_path", opts.ModelPath).Msg("model failed to load, predictions disabled")
		p.info.Error = err.Error()
	} else {
		now := time.Now()
		p.model = model
		p.info.Loaded = true
		p.info.Type = kind
		p.info.Version = version
		p.info.LoadedAt = &now
		log.Info().Str("model_path", opts.ModelPath).Str("type", kind).Str("version", version).Msg("model loaded successfully")
	}

	if p.metrics != nil {
		p.metrics.MLModelLoadedSet(p.Available())
	}

	return p
}

// FromModel wraps an already constructed model.
func FromModel(m Model, info Info, metrics MetricsInterface) *Predictor {
	info.Loaded = m != nil
	if info.Features == nil {
		info.Features = features.Names()
	}
	p := &Predictor{model: m, info: info, metrics: metrics}
	if metrics != nil {
		metrics.MLModelLoadedSet(p.Available())
	}
	return p
}

func openModel(opts Options) (Model, string, string, error) {
	if opts.ModelPath == "" {
		return nil, "", "", fmt.Errorf("no model path configured")
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, "", "", fmt.Errorf("model artifact not accessible: %w", err)
	}

	switch strings.ToLower(filepath.Ext(opts.ModelPath)) {
	case ".pkl", ".joblib", ".onnx":
		sc, err := newSidecar(opts.ModelPath, opts.PythonPath, opts.Timeout)
		if err != nil {
			return nil, "", "", err
		}
		return sc, "sidecar", "", nil
	default:
		a, err := loadArtifact(opts.ModelPath)
		if err != nil {
			return nil, "", "", err
		}
		m, err := a.compile()
		if err != nil {
			return nil, "", "", err
		}
		return m, a.Type, a.Version, nil
	}
}

// Available reports whether a model is loaded.
func (p *Predictor) Available() bool {
	return p != nil && p.model != nil
}

// Info returns a copy of the model description.
func (p *Predictor) Info() Info {
	if p == nil {
		return Info{Features: features.Names()}
	}
	info := p.info
	info.Features = append([]string(nil), p.info.Features...)
	return info
}

// Probability returns the churn probability for v.
func (p *Predictor) Probability(v features.Vector) (float64, error) {
	if !p.Available() {
		return 0, ErrModelUnavailable
	}

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.MLLatencyObserve(time.Since(start).Seconds())
		}
	}()

	if !v.Finite() {
		err := fmt.Errorf("feature vector contains non-finite values")
		p.recordFailure(err)
		return 0, err
	}

	prob, err := p.model.Probability(v)
	if err != nil {
		p.recordFailure(err)
		return 0, err
	}
	if math.IsNaN(prob) || prob < 0 || prob > 1 {
		err := fmt.Errorf("model returned invalid probability %v", prob)
		p.recordFailure(err)
		return 0, err
	}

	if p.metrics != nil {
		p.metrics.MLPredictionsInc()
		p.metrics.MLPredictionScoresObserve(prob)
	}

	log.Debug().Floats64("features", v.Slice()).Float64("probability", prob).Msg("prediction successful")
	return prob, nil
}

func (p *Predictor) recordFailure(err error) {
	if p.metrics == nil {
		return
	}
	p.metrics.MLFailuresInc()
	if errors.Is(err, ErrInferenceTimeout) {
		p.metrics.MLTimeoutsInc()
	}
}
