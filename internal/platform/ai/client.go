// Package ai implements document extraction against an OpenAI-compatible
// chat completions endpoint.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/homehealth/pdgm/internal/domain/oasis"
	"github.com/homehealth/pdgm/internal/platform/telemetry"
	"github.com/homehealth/pdgm/pkg/retry"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 60 * time.Second

	maxErrorBody = 512
)

// Config configures the extraction client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
}

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("extraction request failed with status %d", e.Code)
	}
	return fmt.Sprintf("extraction request failed with status %d: %s", e.Code, e.Body)
}

// Temporary reports whether the request may succeed if retried.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client implements oasis.Extractor.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	retry      retry.Config
	logger     zerolog.Logger
	metrics    clientMetrics
}

var _ oasis.Extractor = (*Client)(nil)

// NewClient creates a client that records metrics on the global meter provider.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	return newClient(cfg, logger, otel.GetMeterProvider())
}

func newClient(cfg Config, logger zerolog.Logger, mp metric.MeterProvider) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("ai api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	rc := retry.DefaultConfig()
	if cfg.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.MaxAttempts
	}

	m, err := newClientMetrics(mp)
	if err != nil {
		return nil, err
	}

	c := &Client{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      rc,
		logger:     logger.With().Str("component", "ai").Str("model", cfg.Model).Logger(),
		metrics:    m,
	}
	c.retry.OnRetry = func(attempt int, err error, next time.Duration) {
		c.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", next).Msg("retrying extraction request")
	}
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Extract sends the document to the model and decodes the returned JSON
// into an Analysis. Transient failures are retried with backoff.
func (c *Client) Extract(ctx context.Context, text string) (*oasis.Analysis, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: buildExtractionUserPrompt(text)},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}

	var content string
	err = retry.Do(ctx, c.retry, func(attempt int) error {
		out, err := c.complete(ctx, body)
		if err != nil {
			if isTransient(err) {
				return err
			}
			return retry.Permanent(err)
		}
		content = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	var a oasis.Analysis
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &a); err != nil {
		c.metrics.recordError(ctx, c.model, "decode")
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}
	return &a, nil
}

func (c *Client) complete(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.record(ctx, c.model, 0, time.Since(start), err)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		c.metrics.record(ctx, c.model, resp.StatusCode, time.Since(start), serr)
		return "", serr
	}

	var envelope chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		c.metrics.record(ctx, c.model, resp.StatusCode, time.Since(start), err)
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(envelope.Choices) == 0 || strings.TrimSpace(envelope.Choices[0].Message.Content) == "" {
		err := errors.New("extraction response missing content")
		c.metrics.record(ctx, c.model, resp.StatusCode, time.Since(start), err)
		return "", err
	}

	c.metrics.record(ctx, c.model, resp.StatusCode, time.Since(start), nil)
	return envelope.Choices[0].Message.Content, nil
}

// isTransient covers rate limiting, server errors and transport failures.
// Context cancellation is never transient.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		return serr.Temporary()
	}
	// Transport failures from http.Client are *url.Error values.
	var uerr *url.Error
	return errors.As(err, &uerr)
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimSuffix(s, "```")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

type clientMetrics struct {
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
	requestErrors   metric.Int64Counter
}

func newClientMetrics(mp metric.MeterProvider) (clientMetrics, error) {
	meter := mp.Meter(telemetry.InstrumentationName)

	count, err := meter.Int64Counter("ai.extraction.request.count",
		metric.WithDescription("Number of extraction requests"))
	if err != nil {
		return clientMetrics{}, err
	}
	duration, err := meter.Float64Histogram("ai.extraction.request.duration",
		metric.WithDescription("Extraction request duration in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return clientMetrics{}, err
	}
	errs, err := meter.Int64Counter("ai.extraction.request.errors",
		metric.WithDescription("Number of failed extraction requests"))
	if err != nil {
		return clientMetrics{}, err
	}
	return clientMetrics{requestCount: count, requestDuration: duration, requestErrors: errs}, nil
}

func (m clientMetrics) record(ctx context.Context, model string, status int, d time.Duration, err error) {
	attrs := []attribute.KeyValue{attribute.String("ai.model", model)}
	if status > 0 {
		attrs = append(attrs, attribute.Int("http.status_code", status))
	}
	m.requestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.requestDuration.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		m.requestErrors.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("error.type", "request"))...))
	}
}

func (m clientMetrics) recordError(ctx context.Context, model, kind string) {
	m.requestErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("ai.model", model),
		attribute.String("error.type", kind),
	))
}
