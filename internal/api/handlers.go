package api

import (
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"churn-api/internal/common"
	"churn-api/internal/ml"
	"churn-api/internal/risk"
	"churn-api/internal/service"
	"churn-api/internal/storage"

	"github.com/rs/zerolog"
)

type rootResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
	Status  string `json:"status"`
	Docs    string `json:"docs"`
}

type healthResponse struct {
	Status      string    `json:"status"`
	ModelLoaded bool      `json:"model_loaded"`
	Timestamp   time.Time `json:"timestamp"`
}

type batchResponse struct {
	Predictions []service.BatchItem `json:"predictions"`
	Count       int                 `json:"count"`
}

type historyResponse struct {
	Predictions []storage.PredictionRecord `json:"predictions"`
	Count       int                        `json:"count"`
	Total       int                        `json:"total"`
}

// Root is the liveness descriptor. It never depends on model state.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, rootResponse{
		Message: common.ServiceName,
		Version: common.ServiceVersion,
		Status:  "running",
		Docs:    common.DocsPath,
	})
}

// Docs lists the registered routes.
func (h *Handler) Docs(w http.ResponseWriter, r *http.Request) {
	routes, err := h.listRoutes()
	if err != nil {
		writeDetail(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	writeJSON(w, r, http.StatusOK, map[string]any{
		"title":   common.ServiceName,
		"version": common.ServiceVersion,
		"routes":  routes,
	})
}

// Health always answers 200, even without a model.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{
		Status:      "healthy",
		ModelLoaded: h.svc.ModelLoaded(),
		Timestamp:   time.Now(),
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.svc.Stats())
}

func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.svc.ModelInfo())
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	customer, verr := decodeCustomer(w, r)
	if verr != nil {
		writeValidation(w, r, verr)
		return
	}

	result, err := h.svc.Predict(customer)
	if err != nil {
		h.writePredictError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

func (h *Handler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	customers, verr := decodeBatch(w, r)
	if verr != nil {
		writeValidation(w, r, verr)
		return
	}

	items, err := h.svc.PredictBatch(customers)
	if err != nil {
		h.writePredictError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, batchResponse{Predictions: items, Count: len(items)})
}

// History returns stored predictions, newest first. Optional query
// parameters: limit, from and to (RFC 3339, inclusive) and risk_level.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if !h.svc.HistoryEnabled() {
		writeDetail(w, r, http.StatusNotFound, "prediction history is disabled")
		return
	}

	q, msg := parseHistoryQuery(r.URL.Query())
	if msg != "" {
		writeDetail(w, r, http.StatusUnprocessableEntity, msg)
		return
	}

	page, err := h.svc.History(q)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to read prediction history")
		writeDetail(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, r, http.StatusOK, historyResponse{Predictions: page.Records, Count: len(page.Records), Total: page.Total})
}

// parseHistoryQuery returns the query, or a message describing the first bad parameter.
func parseHistoryQuery(values url.Values) (service.HistoryQuery, string) {
	q := service.HistoryQuery{Limit: common.DefaultHistory}

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > common.MaxHistoryLimit {
			return q, "limit must be an integer between 1 and " + strconv.Itoa(common.MaxHistoryLimit)
		}
		q.Limit = n
	}

	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &q.From}, {"to", &q.To}} {
		raw := values.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return q, p.name + " must be an RFC 3339 timestamp"
		}
		*p.dst = t
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return q, "from must not be after to"
	}

	if raw := values.Get("risk_level"); raw != "" {
		level, err := risk.ParseLevel(raw)
		if err != nil {
			return q, "risk_level must be one of Low, Medium, High"
		}
		q.RiskLevel = level
	}

	return q, ""
}

func (h *Handler) writePredictError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ml.ErrModelUnavailable) {
		writeDetail(w, r, http.StatusServiceUnavailable, "Model not available")
		return
	}

	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("prediction failed")
	writeDetail(w, r, http.StatusInternalServerError, err.Error())
}
