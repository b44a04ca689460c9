// Package ml adapts a trained churn classifier to the serving path.
// It loads a model artifact once at startup and exposes the positive-class
// probability for a feature vector.
//
// JSON artifacts (random forest or logistic regression exports) are evaluated
// in-process. Pickled scikit-learn models and ONNX files are evaluated by a
// Python sidecar process. When no artifact can be loaded the predictor stays
// in a degraded state where every call fails with ErrModelUnavailable.
package ml

import (
	"errors"
	"time"

	"churn-api/internal/features"
)

// ErrModelUnavailable is returned for every call when no model was loaded.
var ErrModelUnavailable = errors.New("model unavailable")

// ErrInferenceTimeout is returned when the sidecar does not answer in time.
var ErrInferenceTimeout = errors.New("inference timed out")

// Model is a loaded classifier.
type Model interface {
	// Probability returns the probability of the positive (churn) class.
	Probability(v features.Vector) (float64, error)
}

// Info describes the loaded model for the info endpoint.
type Info struct {
	Loaded   bool       `json:"loaded"`
	Path     string     `json:"path"`
	Type     string     `json:"type,omitempty"`
	Version  string     `json:"version,omitempty"`
	Features []string   `json:"features"`
	LoadedAt *time.Time `json:"loaded_at,omitempty"`
	Error    string     `json:"error,omitempty"`
}
