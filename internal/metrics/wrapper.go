package metrics

import (
	"strconv"
)

// Wrapper adapts Metrics to the narrow interfaces the predictor, cache,
// service, and HTTP layer depend on, so those packages never import Prometheus.
type Wrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

func (w *Wrapper) MLPredictionsInc() {
	w.m.MLPredictions.Inc()
}

func (w *Wrapper) MLFailuresInc() {
	w.m.MLFailures.Inc()
}

func (w *Wrapper) MLTimeoutsInc() {
	w.m.MLTimeouts.Inc()
}

func (w *Wrapper) MLLatencyObserve(seconds float64) {
	w.m.MLLatency.Observe(seconds)
}

func (w *Wrapper) MLPredictionScoresObserve(score float64) {
	w.m.MLPredictionScores.Observe(score)
}

func (w *Wrapper) MLModelLoadedSet(loaded bool) {
	if loaded {
		w.m.MLModelLoaded.Set(1)
		return
	}
	w.m.MLModelLoaded.Set(0)
}

func (w *Wrapper) CacheHitInc() {
	w.m.CacheHits.Inc()
}

func (w *Wrapper) CacheMissInc() {
	w.m.CacheMisses.Inc()
}

// PredictionsAdd counts n scored records for mode ("single" or "batch").
func (w *Wrapper) PredictionsAdd(mode string, n int) {
	w.m.PredictionsTotal.WithLabelValues(mode).Add(float64(n))
}

func (w *Wrapper) RiskLevelInc(level string) {
	w.m.RiskLevels.WithLabelValues(level).Inc()
}

func (w *Wrapper) HistoryErrorInc() {
	w.m.HistoryErrors.Inc()
}

// ObserveRequest records one finished HTTP request.
func (w *Wrapper) ObserveRequest(route, method string, status int, seconds float64) {
	w.m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	w.m.HTTPDuration.WithLabelValues(route).Observe(seconds)
}
