// Package service is the prediction-serving core: it turns validated customer
// records into churn predictions, memoizing single predictions and keeping
// usage statistics and the optional prediction history.
package service

import (
	"errors"
	"fmt"
	"math"
	"time"

	"churn-api/internal/cache"
	"churn-api/internal/features"
	"churn-api/internal/ml"
	"churn-api/internal/risk"
	"churn-api/internal/stats"
	"churn-api/internal/storage"

	"github.com/rs/zerolog/log"
)

// ErrInternal wraps any unexpected failure while scoring a record.
var ErrInternal = errors.New("internal computation error")

// ErrHistoryDisabled is returned by History when no store is configured.
var ErrHistoryDisabled = errors.New("prediction history disabled")

// Prediction modes, used as metric labels and history sources.
const (
	ModeSingle = storage.SourceSingle
	ModeBatch  = storage.SourceBatch
)

// Result is the response for a single prediction.
type Result struct {
	ChurnProbability float64    `json:"churn_probability"`
	Prediction       int        `json:"prediction"`
	RiskLevel        risk.Level `json:"risk_level"`
}

// BatchItem is one element of a batch response. It carries no risk level.
type BatchItem struct {
	ChurnProbability float64 `json:"churn_probability"`
	Prediction       int     `json:"prediction"`
}

// Predictor is the model adapter used by the service.
type Predictor interface {
	Available() bool
	Probability(v features.Vector) (float64, error)
	Info() ml.Info
}

// HistoryStore persists served predictions.
type HistoryStore interface {
	StorePredictions(records ...storage.PredictionRecord) error
	Recent(limit int) ([]storage.PredictionRecord, error)
	Between(start, end time.Time) ([]storage.PredictionRecord, error)
	Count() (int, error)
}

// HistoryQuery selects stored predictions. Zero From or To leaves that side
// of the time range open, and an empty RiskLevel matches every record.
type HistoryQuery struct {
	Limit     int
	From      time.Time
	To        time.Time
	RiskLevel risk.Level
}

func (q HistoryQuery) filtered() bool {
	return !q.From.IsZero() || !q.To.IsZero() || q.RiskLevel != ""
}

// HistoryPage is one answer to a HistoryQuery, newest first.
type HistoryPage struct {
	Records []storage.PredictionRecord
	Total   int // records in the store, regardless of the query
}

// MetricsInterface defines metrics methods needed by the service
type MetricsInterface interface {
	PredictionsAdd(mode string, n int)
	RiskLevelInc(level string)
	HistoryErrorInc()
}

type Config struct {
	Predictor    Predictor
	CacheSize    int
	History      HistoryStore // optional
	Metrics      MetricsInterface
	CacheMetrics cache.MetricsInterface
}

// Service is constructed once at startup and shared by all request handlers.
type Service struct {
	predictor Predictor
	cache     *cache.Cache[Result]
	stats     *stats.Recorder
	history   HistoryStore
	metrics   MetricsInterface
	now       func() time.Time
}

func New(cfg Config) (*Service, error) {
	if cfg.Predictor == nil {
		return nil, fmt.Errorf("predictor is required")
	}

	c, err := cache.New[Result](cfg.CacheSize, cfg.CacheMetrics)
	if err != nil {
		return nil, err
	}

	return &Service{
		predictor: cfg.Predictor,
		cache:     c,
		stats:     stats.New(),
		history:   cfg.History,
		metrics:   cfg.Metrics,
		now:       time.Now,
	}, nil
}

// ModelLoaded reports whether predictions can be served.
func (s *Service) ModelLoaded() bool {
	return s.predictor.Available()
}

func (s *Service) ModelInfo() ml.Info {
	return s.predictor.Info()
}

func (s *Service) Stats() stats.Snapshot {
	return s.stats.Snapshot(s.ModelLoaded())
}

// CacheLen returns the number of memoized predictions.
func (s *Service) CacheLen() int {
	return s.cache.Len()
}

// HistoryEnabled reports whether a history store is configured.
func (s *Service) HistoryEnabled() bool {
	return s.history != nil
}

// Predict scores one customer. Identical records are served from the cache.
func (s *Service) Predict(c features.Customer) (Result, error) {
	if !s.ModelLoaded() {
		return Result{}, ml.ErrModelUnavailable
	}

	result, hit, err := s.cache.GetOrCompute(c, func() (Result, error) {
		p, err := s.score(c)
		if err != nil {
			return Result{}, err
		}
		return Result{
			ChurnProbability: round4(p),
			Prediction:       risk.Prediction(p),
			RiskLevel:        risk.Classify(p),
		}, nil
	})
	if err != nil {
		return Result{}, err
	}

	key := features.Key(c)
	log.Info().Str("hash", key[:8]).Bool("cached", hit).Float64("churn_probability", result.ChurnProbability).Msg("Prediction")

	s.stats.RecordSingle()
	if s.metrics != nil {
		s.metrics.PredictionsAdd(ModeSingle, 1)
		s.metrics.RiskLevelInc(result.RiskLevel.String())
	}

	s.record(storage.PredictionRecord{
		ID:               key,
		Source:           ModeSingle,
		Timestamp:        s.now(),
		Customer:         c,
		ChurnProbability: result.ChurnProbability,
		Prediction:       result.Prediction,
		RiskLevel:        result.RiskLevel.String(),
		Cached:           hit,
	})

	return result, nil
}

// PredictBatch scores every customer in order, without the cache. Any failure
// fails the whole batch and nothing is recorded.
func (s *Service) PredictBatch(customers []features.Customer) ([]BatchItem, error) {
	if !s.ModelLoaded() {
		return nil, ml.ErrModelUnavailable
	}

	items := make([]BatchItem, 0, len(customers))
	for i, c := range customers {
		p, err := s.score(c)
		if err != nil {
			log.Error().Err(err).Int("index", i).Msg("Batch prediction failed")
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		items = append(items, BatchItem{ChurnProbability: round4(p), Prediction: risk.Prediction(p)})
	}

	log.Info().Int("count", len(items)).Msg("Batch prediction processed")

	s.stats.RecordBatch(len(items))
	if s.metrics != nil {
		s.metrics.PredictionsAdd(ModeBatch, len(items))
	}

	now := s.now()
	records := make([]storage.PredictionRecord, len(items))
	for i, item := range items {
		records[i] = storage.PredictionRecord{
			ID:               features.Key(customers[i]),
			Source:           ModeBatch,
			Timestamp:        now,
			Customer:         customers[i],
			ChurnProbability: item.ChurnProbability,
			Prediction:       item.Prediction,
		}
	}
	s.record(records...)

	return items, nil
}

// History returns up to q.Limit stored predictions matching q, newest first.
func (s *Service) History(q HistoryQuery) (HistoryPage, error) {
	if s.history == nil {
		return HistoryPage{}, ErrHistoryDisabled
	}

	var (
		records []storage.PredictionRecord
		err     error
	)
	if q.filtered() {
		records, err = s.matchingHistory(q)
	} else {
		records, err = s.history.Recent(q.Limit)
	}
	if err != nil {
		return HistoryPage{}, fmt.Errorf("read history: %w", err)
	}

	total, err := s.history.Count()
	if err != nil {
		return HistoryPage{}, fmt.Errorf("count history: %w", err)
	}

	return HistoryPage{Records: records, Total: total}, nil
}

func (s *Service) matchingHistory(q HistoryQuery) ([]storage.PredictionRecord, error) {
	inRange, err := s.history.Between(q.From, q.To)
	if err != nil {
		return nil, err
	}

	out := make([]storage.PredictionRecord, 0, min(q.Limit, len(inRange)))
	for i := len(inRange) - 1; i >= 0 && len(out) < q.Limit; i-- {
		if q.RiskLevel != "" && inRange[i].RiskLevel != q.RiskLevel.String() {
			continue
		}
		out = append(out, inRange[i])
	}
	return out, nil
}

// score runs the model and returns the raw probability. The label and the
// risk tier are taken from the raw value; only the reported probability is
// rounded to 4 decimals.
func (s *Service) score(c features.Customer) (float64, error) {
	p, err := s.predictor.Probability(features.Build(c))
	if err != nil {
		if errors.Is(err, ml.ErrModelUnavailable) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return p, nil
}

// record writes history on a best-effort basis: a failed write never fails
// the prediction.
func (s *Service) record(records ...storage.PredictionRecord) {
	if s.history == nil || len(records) == 0 {
		return
	}
	if err := s.history.StorePredictions(records...); err != nil {
		log.Warn().Err(err).Int("records", len(records)).Msg("Failed to store prediction history")
		if s.metrics != nil {
			s.metrics.HistoryErrorInc()
		}
	}
}

func round4(p float64) float64 {
	return math.Round(p*10000) / 10000
}
