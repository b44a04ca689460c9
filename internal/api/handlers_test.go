package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"churn-api/internal/features"
	"churn-api/internal/ml"
	"churn-api/internal/risk"
	"churn-api/internal/service"
	"churn-api/internal/storage"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleCustomer = `{
  "CreditScore": 650, "Age": 35, "Tenure": 5, "Balance": 50000, "NumOfProducts": 2,
  "HasCrCard": 1, "IsActiveMember": 1, "EstimatedSalary": 75000,
  "Geography_Germany": 0, "Geography_Spain": 1
}`

// ageModel returns Age/100 and counts evaluations.
type ageModel struct {
	calls  atomic.Int64
	err    error
	panics bool
}

func (m *ageModel) Probability(v features.Vector) (float64, error) {
	m.calls.Add(1)
	if m.panics {
		panic("corrupt tree")
	}
	if m.err != nil {
		return 0, m.err
	}
	return v[1] / 100, nil
}

type recordedRequest struct {
	route, method string
	status        int
}

type fakeHTTPMetrics struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (m *fakeHTTPMetrics) ObserveRequest(route, method string, status int, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, recordedRequest{route, method, status})
}

type testEnv struct {
	model   *ageModel
	svc     *service.Service
	handler http.Handler
	metrics *fakeHTTPMetrics
}

func newTestEnv(t *testing.T, model *ageModel, history service.HistoryStore, opts Options) *testEnv {
	t.Helper()

	var m ml.Model
	if model != nil {
		m = model
	}
	predictor := ml.FromModel(m, ml.Info{Path: "test.json", Type: "stub", Version: "v-test"}, nil)

	svc, err := service.New(service.Config{Predictor: predictor, CacheSize: 1000, History: history})
	require.NoError(t, err)

	metrics := &fakeHTTPMetrics{}
	opts.Metrics = metrics
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.NewRegistry()
	}

	return &testEnv{model: model, svc: svc, handler: NewRouter(svc, opts), metrics: metrics}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func withAge(t *testing.T, age float64) string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(exampleCustomer), &m))
	m["Age"] = age
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return string(data)
}

func TestRoot(t *testing.T) {
	env := newTestEnv(t, nil, nil, Options{})

	rec := env.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]string](t, rec)
	assert.Equal(t, map[string]string{
		"message": "Bank Churn Prediction API",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
	}, body)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		model  *ageModel
		loaded bool
	}{
		{"with model", &ageModel{}, true},
		{"degraded", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.model, nil, Options{})

			rec := env.do(t, http.MethodGet, "/health", "")
			require.Equal(t, http.StatusOK, rec.Code)

			body := decode[map[string]any](t, rec)
			assert.Equal(t, "healthy", body["status"])
			assert.Equal(t, tt.loaded, body["model_loaded"])
			assert.NotEmpty(t, body["timestamp"])
		})
	}
}

func TestPredict_ExampleRecord(t *testing.T) {
	env := newTestEnv(t, &ageModel{}, nil, Options{})

	rec := env.do(t, http.MethodPost, "/predict", exampleCustomer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	got := decode[service.Result](t, rec)
	assert.Equal(t, 0.35, got.ChurnProbability)
	assert.Equal(t, 0, got.Prediction)
	assert.Equal(t, risk.Medium, got.RiskLevel)
	assert.Equal(t, risk.Classify(got.ChurnProbability), got.RiskLevel)
}

func TestPredict_IdempotentAndCached(t *testing.T) {
	env := newTestEnv(t, &ageModel{}, nil, Options{})

	first := env.do(t, http.MethodPost, "/predict", exampleCustomer)
	second := env.do(t, http.MethodPost, "/predict", exampleCustomer)

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int64(1), env.model.calls.Load(), "second identical request should hit the cache")
}

func TestPredict_Validation(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"missing field", `{"CreditScore": 650}`, "Age"},
		{"null field", strings.Replace(exampleCustomer, `"Age": 35`, `"Age": null`, 1), "Age"},
		{"string instead of number", strings.Replace(exampleCustomer, `"Age": 35`, `"Age": "35"`, 1), "body"},
		{"flag out of range", strings.Replace(exampleCustomer, `"HasCrCard": 1`, `"HasCrCard": 2`, 1), "HasCrCard"},
		{"malformed json", `{"CreditScore": `, "body"},
		{"empty body", ``, "body"},
		{"array instead of object", `[` + exampleCustomer + `]`, "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &ageModel{}, nil, Options{})

			rec := env.do(t, http.MethodPost, "/predict", tt.body)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

			body := decode[struct {
				Detail []struct {
					Field string `json:"field"`
					Type  string `json:"type"`
					Msg   string `json:"msg"`
				} `json:"detail"`
			}](t, rec)
			require.NotEmpty(t, body.Detail)

			var fields []string
			for _, d := range body.Detail {
				fields = append(fields, d.Field)
				assert.NotEmpty(t, d.Msg)
			}
			assert.Contains(t, fields, tt.wantField)
			assert.Zero(t, env.model.calls.Load(), "invalid input must not reach the model")
		})
	}
}

func TestPredict_ZeroValuesAreAccepted(t *testing.T) {
	env := newTestEnv(t, &ageModel{}, nil, Options{})

	body := `{"CreditScore":0,"Age":0,"Tenure":0,"Balance":0,"NumOfProducts":0,"HasCrCard":0,"IsActiveMember":0,"EstimatedSalary":0,"Geography_Germany":0,"Geography_Spain":0}`
	rec := env.do(t, http.MethodPost, "/predict", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPredict_ModelUnavailable(t *testing.T) {
	env := newTestEnv(t, nil, nil, Options{})

	for _, tc := range []struct{ path, body string }{
		{"/predict", exampleCustomer},
		{"/predict/batch", "[" + exampleCustomer + "]"},
	} {
		rec := env.do(t, http.MethodPost, tc.path, tc.body)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, tc.path)
		assert.Equal(t, "Model not available", decode[map[string]string](t, rec)["detail"])
	}

	// Health and root stay up.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/", "").Code)
}

func TestPredict_InternalError(t *testing.T) {
	env := newTestEnv(t, &ageModel{err: errors.New("corrupt tree")}, nil, Options{})

	rec := env.do(t, http.MethodPost, "/predict", exampleCustomer)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["detail"], "corrupt tree")

	rec = env.do(t, http.MethodPost, "/predict/batch", "["+exampleCustomer+"]")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPredictBatch(t *testing.T) {
	env := newTestEnv(t, &ageModel{}, nil, Options{})

	body := "[" + withAge(t, 20) + "," + withAge(t, 80) + "," + withAge(t, 55) + "]"
	rec := env.do(t, http.MethodPost, "/predict/batch", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var raw struct {
		Predictions []map[string]any `json:"predictions"`
		Count       int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	require.Equal(t, 3, raw.Count)
	require.Len(t, raw.Predictions, 3)

	wantProb := []float64{0.2, 0.8, 0.55}
	wantPred := []float64{0, 1, 1}
	for i, p := range raw.Predictions {
		assert.Equal(t, wantProb[i], p["churn_probability"])
		assert.Equal(t, wantPred[i], p["prediction"])
		_, hasRisk := p["risk_level"]
		assert.False(t, hasRisk, "batch items carry no risk_level")
	}
}

func TestPredictBatch_ConsistentWithSingle(t *testing.T) {
	env := newTestEnv(t, &ageModel{}, nil, Options{})

	ages := []float64{18, 33.33333, 67}
	parts := make([]string, len(ages))
	for i, a := range ages {
		parts[i] = withAge(t, a)
	}

	batchRec := env.do(t, http.MethodPost, "/predict/batch", "["+strings.Join(parts, ",")+"]")
	require.Equal(t, http.StatusOK, batchRec.Code)
	batch := decode[struct {
		Predictions []service.BatchItem `json:"predictions"`
	}](t, batchRec)

	for i, part := range parts {
		rec := env.do(t, http.MethodPost, "/predict", part)
		require.Equal(t, http.StatusOK, rec.Code)
		single := decode[service.Result](t, rec)
		assert.Equal(t, single.ChurnProbability, batch.Predictions[i].ChurnProbability)
		assert.Equal(t, single.Prediction, batch.Predictions[i].Prediction)
	}
}

func TestPredictBatch_Empty(t *testing.T) {
	env := newTestEnv(t, &ageModel{}, nil, Options{})

	rec := env.do(t, http.MethodPost, "/predict/batch", "[]")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"predictions": [], "count": 0}`, rec.Body.String())

	stats := decode[map[string]any](t, env.do(t, http.MethodGet, "/stats", ""))
	assert.NotNil(t, stats["last_prediction"], "an empty batch still counts as an event")
}

func TestPredictBatch_Validation(t *testing.T) {
	env := newTestEnv(t, &ageModel{}, nil, Options{})

	bad := strings.Replace(exampleCustomer, `"IsActiveMember": 1`, `"IsActiveMember": 7`, 1)
	rec := env.do(t, http.MethodPost, "/predict/batch", "["+exampleCustomer+","+bad+"]")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `[1].IsActiveMember`)

	rec = env.do(t, http.MethodPost, "/predict/batch", exampleCustomer)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, "an object is not a batch")

	assert.Zero(t, env.model.calls.Load())
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, &ageModel{}, nil, Options{})

	initial := decode[map[string]any](t, env.do(t, http.MethodGet, "/stats", ""))
	assert.Equal(t, float64(0), initial["total_predictions"])
	assert.Nil(t, initial["last_prediction"])
	assert.Equal(t, true, initial["model_loaded"])

	env.do(t, http.MethodPost, "/predict", exampleCustomer)
	env.do(t, http.MethodPost, "/predict", exampleCustomer)
	env.do(t, http.MethodPost, "/predict/batch", "["+withAge(t, 40)+","+withAge(t, 41)+"]")
	env.do(t, http.MethodPost, "/predict/batch", "["+withAge(t, 42)+"]")
	env.do(t, http.MethodPost, "/predict", `{}`) // rejected, not counted

	stats := decode[map[string]any](t, env.do(t, http.MethodGet, "/stats", ""))
	assert.Equal(t, float64(2), stats["total_predictions"])
	assert.Equal(t, float64(3), stats["total_batch_predictions"])
	assert.NotNil(t, stats["last_prediction"])
	assert.GreaterOrEqual(t, stats["uptime_seconds"], 0.0)
}

func TestModelInfo(t *testing.T) {
	env := newTestEnv(t, &ageModel{}, nil, Options{})

	info := decode[ml.Info](t, env.do(t, http.MethodGet, "/model/info", ""))
	assert.True(t, info.Loaded)
	assert.Equal(t, "stub", info.Type)
	assert.Equal(t, "v-test", info.Version)
	assert.Equal(t, features.Names(), info.Features)
}

func TestHistory(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, &ageModel{}, nil, Options{})
		rec := env.do(t, http.MethodGet, "/predictions/history", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		store, err := storage.New(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })

		env := newTestEnv(t, &ageModel{}, store, Options{})
		env.do(t, http.MethodPost, "/predict", withAge(t, 25))
		env.do(t, http.MethodPost, "/predict/batch", "["+withAge(t, 61)+","+withAge(t, 62)+"]")

		rec := env.do(t, http.MethodGet, "/predictions/history?limit=2", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		body := decode[struct {
			Predictions []storage.PredictionRecord `json:"predictions"`
			Count       int                        `json:"count"`
		}](t, rec)
		require.Equal(t, 2, body.Count)
		assert.Equal(t, 62.0, body.Predictions[0].Customer.Age)
		assert.Equal(t, storage.SourceBatch, body.Predictions[0].Source)

		all := decode[struct {
			Count int `json:"count"`
			Total int `json:"total"`
		}](t, env.do(t, http.MethodGet, "/predictions/history", ""))
		assert.Equal(t, 3, all.Count)
		assert.Equal(t, 3, all.Total)
	})

	t.Run("filters", func(t *testing.T) {
		store, err := storage.New(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })

		env := newTestEnv(t, &ageModel{}, store, Options{})
		env.do(t, http.MethodPost, "/predict", withAge(t, 25))
		env.do(t, http.MethodPost, "/predict", withAge(t, 75))
		env.do(t, http.MethodPost, "/predict", withAge(t, 80))

		type page struct {
			Predictions []storage.PredictionRecord `json:"predictions"`
			Count       int                        `json:"count"`
			Total       int                        `json:"total"`
		}

		rec := env.do(t, http.MethodGet, "/predictions/history?risk_level=High&limit=1", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		high := decode[page](t, rec)
		require.Equal(t, 1, high.Count)
		assert.Equal(t, 80.0, high.Predictions[0].Customer.Age)
		assert.Equal(t, 3, high.Total)

		ranged := decode[page](t, env.do(t, http.MethodGet, "/predictions/history?from=2000-01-01T00:00:00Z&to=2000-01-02T00:00:00Z", ""))
		assert.Equal(t, 0, ranged.Count)
		assert.Equal(t, 3, ranged.Total)

		open := decode[page](t, env.do(t, http.MethodGet, "/predictions/history?from=2000-01-01T00:00:00Z", ""))
		assert.Equal(t, 3, open.Count)
	})

	t.Run("invalid limit", func(t *testing.T) {
		store, err := storage.New(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })

		env := newTestEnv(t, &ageModel{}, store, Options{})
		for _, q := range []string{"0", "-4", "abc", "501"} {
			rec := env.do(t, http.MethodGet, "/predictions/history?limit="+q, "")
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, q)
		}
		for _, q := range []string{
			"from=yesterday",
			"to=2024-13-01T00:00:00Z",
			"from=2024-02-01T00:00:00Z&to=2024-01-01T00:00:00Z",
			"risk_level=low",
		} {
			rec := env.do(t, http.MethodGet, "/predictions/history?"+q, "")
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, q)
		}
	})
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, &ageModel{}, nil, Options{})

	rec := env.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", decode[map[string]string](t, rec)["detail"])

	rec = env.do(t, http.MethodGet, "/predict", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDocs(t *testing.T) {
	env := newTestEnv(t, &ageModel{}, nil, Options{})

	rec := env.do(t, http.MethodGet, "/docs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"/predict/batch"`)
	assert.Contains(t, rec.Body.String(), `"/health"`)
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_marker_total", Help: "marker"})
	registry.MustRegister(counter)
	counter.Inc()

	env := newTestEnv(t, &ageModel{}, nil, Options{Gatherer: registry})

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_marker_total 1")
}

func TestRequestMetricsUseRoutePattern(t *testing.T) {
	env := newTestEnv(t, &ageModel{}, nil, Options{})

	env.do(t, http.MethodPost, "/predict", exampleCustomer)
	env.do(t, http.MethodPost, "/predict", `{}`)

	env.metrics.mu.Lock()
	defer env.metrics.mu.Unlock()
	require.Len(t, env.metrics.requests, 2)
	assert.Equal(t, recordedRequest{"/predict", http.MethodPost, http.StatusOK}, env.metrics.requests[0])
	assert.Equal(t, recordedRequest{"/predict", http.MethodPost, http.StatusUnprocessableEntity}, env.metrics.requests[1])
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t, &ageModel{}, nil, Options{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestPanicReturnsJSONDetail(t *testing.T) {
	env := newTestEnv(t, &ageModel{panics: true}, nil, Options{})

	rec := env.do(t, http.MethodPost, "/predict", exampleCustomer)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Internal Server Error", decode[map[string]string](t, rec)["detail"])

	env.metrics.mu.Lock()
	defer env.metrics.mu.Unlock()
	require.Len(t, env.metrics.requests, 1)
	assert.Equal(t, http.StatusInternalServerError, env.metrics.requests[0].status)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, &ageModel{}, nil, Options{CORSOrigins: []string{"*"}})

	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "http://localhost:8501")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, &ageModel{}, nil, Options{RateLimitPerMinute: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewBufferString(exampleCustomer))
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Health is never rate limited.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "").Code)
	}
}
