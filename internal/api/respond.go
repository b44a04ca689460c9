package api

import (
	"net/http"

	"churn-api/internal/validation"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Detail any `json:"detail"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
		http.Error(w, `{"detail":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("failed to write response")
	}
}

func writeDetail(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeJSON(w, r, status, errorResponse{Detail: detail})
}

func writeValidation(w http.ResponseWriter, r *http.Request, verr *validation.RequestValidationError) {
	writeJSON(w, r, http.StatusUnprocessableEntity, errorResponse{Detail: verr.Details()})
}
