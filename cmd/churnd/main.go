package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"churn-api/internal/api"
	"churn-api/internal/cfg"
	"churn-api/internal/metrics"
	"churn-api/internal/ml"
	"churn-api/internal/service"
	"churn-api/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c)

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	predictor := ml.Load(ml.Options{
		ModelPath:  c.ModelPath,
		PythonPath: c.PythonPath,
		Timeout:    c.InferenceTimeout,
		Metrics:    mw,
	})

	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	svcCfg := service.Config{
		Predictor:    predictor,
		CacheSize:    c.CacheSize,
		Metrics:      mw,
		CacheMetrics: mw,
	}
	// A nil *storage.Store must not become a non-nil interface.
	if store != nil {
		svcCfg.History = store
	}
	svc, err := service.New(svcCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service initialization failed")
	}

	router := api.NewRouter(svc, api.Options{
		CORSOrigins:        c.CORSOrigins,
		RateLimitPerMinute: c.RateLimitPerMinute,
		Metrics:            mw,
	})
	server := api.NewServer(c, router)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Bool("model_loaded", predictor.Available()).
			Int("cache_size", c.CacheSize).
			Bool("history", store != nil).
			Msg("starting churn prediction API")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	waitForShutdown(ctx, cancel, serverErr)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown HTTP server")
	}
	log.Info().Msg("shutdown complete")
}

// setupLogging configures the global zerolog logger from settings.
func setupLogging(c cfg.Settings) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if strings.EqualFold(c.LogFormat, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}

// initializeStorage initializes storage if DATA_PATH is configured
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath != "" {
		store, err := storage.New(c.DataPath)
		if err != nil {
			log.Warn().Err(err).Msg("storage initialization failed, continuing without prediction history")
			return nil
		}
		log.Info().Str("path", store.Path()).Msg("prediction history enabled")
		return store
	}
	return nil
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc, serverErr <-chan error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case err, ok := <-serverErr:
		if ok && err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()
}
