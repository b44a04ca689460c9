// Package metrics provides Prometheus metrics collection for the churn service.
// It defines the HTTP, prediction, cache, and model metrics exposed via the
// /metrics endpoint for monitoring and alerting.
package metrics

import (
	"churn-api/internal/common"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequests *prometheus.CounterVec   // Requests by route, method and status
	HTTPDuration *prometheus.HistogramVec // Request latency by route

	// Prediction metrics
	PredictionsTotal *prometheus.CounterVec // Records scored, by mode (single or batch)
	RiskLevels       *prometheus.CounterVec // Single predictions by risk level
	CacheHits        prometheus.Counter     // Single predictions served from cache
	CacheMisses      prometheus.Counter     // Single predictions that ran the model
	HistoryErrors    prometheus.Counter     // Failed history writes

	// ML metrics
	MLPredictions      prometheus.Counter   // Successful model evaluations
	MLFailures         prometheus.Counter   // Failed model evaluations
	MLTimeouts         prometheus.Counter   // Sidecar evaluations that timed out
	MLLatency          prometheus.Histogram // Model evaluation latency in seconds
	MLPredictionScores prometheus.Histogram // Distribution of churn probabilities
	MLModelLoaded      prometheus.Gauge     // 1 when a model is loaded

	BuildInfo *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	m := &Metrics{
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "churn_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "churn_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"route"}),
		PredictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "churn_predictions_total",
			Help: "Total number of customer records scored",
		}, []string{"mode"}),
		RiskLevels: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "churn_risk_level_total",
			Help: "Single predictions by risk level",
		}, []string{"level"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "churn_cache_hits_total",
			Help: "Single predictions served from the cache",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "churn_cache_misses_total",
			Help: "Single predictions that ran the model",
		}),
		HistoryErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "churn_history_write_errors_total",
			Help: "Total number of failed prediction history writes",
		}),
		MLPredictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_predictions_total",
			Help: "Total number of ML predictions made",
		}),
		MLFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_failures_total",
			Help: "Total number of ML prediction failures",
		}),
		MLTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_timeouts_total",
			Help: "Total number of ML prediction timeouts",
		}),
		MLLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_latency_seconds",
			Help:    "ML prediction latency in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),
		MLPredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_prediction_scores",
			Help:    "Distribution of churn probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		MLModelLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ml_model_loaded",
			Help: "Whether a churn model is loaded (1) or not (0)",
		}),
		BuildInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "churn_build_info",
			Help: "Service version, always 1",
		}, []string{"version"}),
	}

	m.BuildInfo.WithLabelValues(common.ServiceVersion).Set(1)
	return m
}
