// Command smoketest exercises a running churn API end to end.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"churn-api/internal/features"
	"churn-api/internal/service"
	"churn-api/internal/stats"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var example = features.Customer{
	CreditScore:      650,
	Age:              35,
	Tenure:           5,
	Balance:          50000,
	NumOfProducts:    2,
	HasCrCard:        1,
	IsActiveMember:   1,
	EstimatedSalary:  75000,
	GeographyGermany: 0,
	GeographySpain:   1,
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

type batchResponse struct {
	Predictions []service.BatchItem `json:"predictions"`
	Count       int                 `json:"count"`
}

type checker struct {
	client *resty.Client
}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "base URL of the churn API")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	client := resty.New()
	client.SetBaseURL(*baseURL)
	client.SetTimeout(*timeout)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)

	c := &checker{client: client}
	steps := []struct {
		name string
		run  func() error
	}{
		{"health", c.health},
		{"predict", c.predict},
		{"batch", c.batch},
		{"stats", c.stats},
	}

	for _, step := range steps {
		start := time.Now()
		if err := step.run(); err != nil {
			log.Error().Err(err).Str("step", step.name).Msg("smoke test failed")
			os.Exit(1)
		}
		log.Info().Str("step", step.name).Dur("elapsed", time.Since(start)).Msg("ok")
	}
	log.Info().Str("url", *baseURL).Msg("all smoke checks passed")
}

func (c *checker) health() error {
	var h healthResponse
	resp, err := c.client.R().SetResult(&h).Get("/health")
	if err := expectOK(resp, err); err != nil {
		return err
	}
	if h.Status != "healthy" {
		return fmt.Errorf("unexpected status %q", h.Status)
	}
	if !h.ModelLoaded {
		return fmt.Errorf("model is not loaded")
	}
	return nil
}

func (c *checker) predict() error {
	var r service.Result
	resp, err := c.client.R().SetBody(example).SetResult(&r).Post("/predict")
	if err := expectOK(resp, err); err != nil {
		return err
	}
	if r.ChurnProbability < 0 || r.ChurnProbability > 1 {
		return fmt.Errorf("probability %v out of range", r.ChurnProbability)
	}
	log.Info().
		Float64("churn_probability", r.ChurnProbability).
		Int("prediction", r.Prediction).
		Str("risk_level", string(r.RiskLevel)).
		Msg("single prediction")
	return nil
}

func (c *checker) batch() error {
	other := example
	other.Age = 60
	other.IsActiveMember = 0

	var b batchResponse
	resp, err := c.client.R().SetBody([]features.Customer{example, other}).SetResult(&b).Post("/predict/batch")
	if err := expectOK(resp, err); err != nil {
		return err
	}
	if b.Count != 2 || len(b.Predictions) != 2 {
		return fmt.Errorf("expected 2 predictions, got count=%d len=%d", b.Count, len(b.Predictions))
	}
	return nil
}

func (c *checker) stats() error {
	var s stats.Snapshot
	resp, err := c.client.R().SetResult(&s).Get("/stats")
	if err := expectOK(resp, err); err != nil {
		return err
	}
	if s.TotalPredictions < 1 || s.TotalBatchPredictions < 2 {
		return fmt.Errorf("counters not updated: %+v", s)
	}
	return nil
}

func expectOK(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%s %s returned %d: %s", resp.Request.Method, resp.Request.URL, resp.StatusCode(), resp.String())
	}
	return nil
}
