// Package api is the HTTP surface of the churn service. It validates
// requests, dispatches them to the prediction service and maps errors to
// status codes: 422 for invalid input, 503 while no model is loaded and 500
// for anything else. Error bodies are always {"detail": ...}.
package api

import (
	"fmt"
	"net/http"
	"time"

	"churn-api/internal/cfg"
	"churn-api/internal/service"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Options struct {
	CORSOrigins        []string
	RateLimitPerMinute int // 0 disables rate limiting
	Metrics            HTTPMetrics
	Gatherer           prometheus.Gatherer // defaults to the global registry
}

// Handler holds the service context shared by all routes.
type Handler struct {
	svc    *service.Service
	routes chi.Routes
}

// NewRouter builds the route tree.
func NewRouter(svc *service.Service, opts Options) http.Handler {
	h := &Handler{svc: svc}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(opts.Metrics))
	r.Use(recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, r, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, r, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Get("/", h.Root)
	r.Get("/docs", h.Docs)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Get("/model/info", h.ModelInfo)
	r.Get("/predictions/history", h.History)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		if opts.RateLimitPerMinute > 0 {
			r.Use(httprate.Limit(
				opts.RateLimitPerMinute,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					writeDetail(w, r, http.StatusTooManyRequests, "Too Many Requests")
				}),
			))
		}
		r.Post("/predict", h.Predict)
		r.Post("/predict/batch", h.PredictBatch)
	})

	h.routes = r
	return r
}

// NewServer wraps handler in an http.Server configured from settings.
func NewServer(settings cfg.Settings, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              settings.Addr(),
		Handler:           handler,
		ReadTimeout:       settings.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      settings.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

type route struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

func (h *Handler) listRoutes() ([]route, error) {
	var out []route
	err := chi.Walk(h.routes, func(method, path string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		out = append(out, route{Method: method, Path: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk routes: %w", err)
	}
	return out, nil
}
