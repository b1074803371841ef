// Package scoring talks to the external AI analyzer. The provider's
// response shape is loose (label/prob in older deployments, top_label /
// top_prob in newer ones); it is normalized here and the ambiguity never
// reaches the lifecycle engine.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/medifusion/triage-api/internal/model"
	"github.com/medifusion/triage-api/pkg/circuitbreaker"
	apperrors "github.com/medifusion/triage-api/pkg/errors"
	"github.com/medifusion/triage-api/pkg/metrics"
)

// Scorer is the collaborator contract the lifecycle engine consumes.
type Scorer interface {
	ScoreSymptoms(ctx context.Context, symptoms string) (*model.ScoringResult, error)
	ScoreImage(ctx context.Context, image []byte) (*model.ScoringResult, error)
}

type Config struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxFailures int
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	cb      *circuitbreaker.CircuitBreaker
	logger  *zerolog.Logger
	metrics *metrics.Metrics
}

func NewClient(cfg Config, logger *zerolog.Logger, m *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "scoring",
			MaxFailures: maxFailures,
			Timeout:     30 * time.Second,
		}),
		logger:  logger,
		metrics: m,
	}
}

// rawResult tolerates both provider response generations.
type rawResult struct {
	Label       string  `json:"label"`
	Prob        float64 `json:"prob"`
	TopLabel    string  `json:"top_label"`
	TopProb     float64 `json:"top_prob"`
	Notes       string  `json:"notes"`
	Urgency     string  `json:"urgency"`
	Predictions []struct {
		Disease    string  `json:"disease"`
		Confidence float64 `json:"confidence"`
	} `json:"predictions"`
}

func (raw *rawResult) normalize() *model.ScoringResult {
	res := &model.ScoringResult{
		Label:      raw.TopLabel,
		Confidence: raw.TopProb,
		Notes:      raw.Notes,
	}
	if res.Label == "" {
		res.Label = raw.Label
		res.Confidence = raw.Prob
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		res.Confidence = 0
	}
	switch model.Urgency(raw.Urgency) {
	case model.UrgencyLow, model.UrgencyMedium, model.UrgencyHigh:
		res.Urgency = model.Urgency(raw.Urgency)
	case "":
		// optional field
	default:
		res.Urgency = model.UrgencyUnknown
	}
	for _, p := range raw.Predictions {
		res.Predictions = append(res.Predictions, model.Prediction{
			Disease:    p.Disease,
			Confidence: p.Confidence,
		})
	}
	return res
}

func (c *Client) ScoreSymptoms(ctx context.Context, symptoms string) (*model.ScoringResult, error) {
	payload, err := json.Marshal(map[string]string{"symptoms": symptoms})
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return c.do(ctx, "/v1/analyze/symptoms", "application/json", bytes.NewReader(payload))
}

func (c *Client) ScoreImage(ctx context.Context, image []byte) (*model.ScoringResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "image")
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := mw.Close(); err != nil {
		return nil, apperrors.Internal(err)
	}
	return c.do(ctx, "/v1/analyze/image", mw.FormDataContentType(), &body)
}

func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader) (*model.ScoringResult, error) {
	var result *model.ScoringResult

	start := time.Now()
	err := c.cb.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("scoring returned %d: %s", resp.StatusCode, b)
		}

		var raw rawResult
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return fmt.Errorf("malformed scoring response: %w", err)
		}
		result = raw.normalize()
		return nil
	})
	if c.metrics != nil {
		c.metrics.ScoringLatency.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		if c.metrics != nil {
			c.metrics.ScoringRequests.WithLabelValues("error").Inc()
		}
		c.logger.Warn().Err(err).Str("path", path).Msg("scoring call failed")
		return nil, apperrors.Dependency("scoring collaborator unavailable", err)
	}

	if c.metrics != nil {
		c.metrics.ScoringRequests.WithLabelValues("ok").Inc()
	}
	return result, nil
}
