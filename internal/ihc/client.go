// Package ihc talks to the remote IHC attribution scoring service: it
// serializes journeys to the service's wire shape, submits them in bounded
// chunks and maps the returned weights back to their sessions.
package ihc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/radiusdt/attribution-pipeline/internal/config"
	"github.com/radiusdt/attribution-pipeline/internal/metrics"
	"github.com/radiusdt/attribution-pipeline/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// timestampLayout is the wire format the scoring service expects.
const timestampLayout = "2006-01-02 15:04:05"

// APIError is a scoring service call failure. Retryable errors are
// transient (rate limit, server error, network); the rest are permanent
// and must not be retried.
type APIError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("scoring service error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("scoring service error: %s", e.Message)
}

// Quota is an optional shared request budget checked before each call, on
// top of the client's in-process limiter.
type Quota interface {
	Wait(ctx context.Context) error
}

// Client calls the scoring service with bounded retries, exponential
// backoff with full jitter, and a token-bucket request limiter.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	convTypeID  string
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
	limiter     *rate.Limiter
	quota       Quota
	redistrib   *RedistributionParameter
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

func NewClient(cfg config.APIConfig, logger *zap.Logger, m *metrics.Metrics) *Client {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		convTypeID:  cfg.ConvTypeID,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		backoffMax:  cfg.BackoffMax,
		limiter:     rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		logger:      logger,
		metrics:     m,
	}
}

// SetQuota attaches a shared request quota (e.g. Redis-backed) to the client.
func (c *Client) SetQuota(q Quota) { c.quota = q }

// SetRedistribution attaches redistribution parameters sent with every call.
func (c *Client) SetRedistribution(p *RedistributionParameter) { c.redistrib = p }

type wireTouchpoint struct {
	SessionID string      `json:"session_id"`
	Timestamp string      `json:"timestamp"`
	Channel   string      `json:"channel_name"`
	Role      models.Role `json:"role"`
}

type wireJourney struct {
	ConversionID string           `json:"conversion_id"`
	Touchpoints  []wireTouchpoint `json:"touchpoints"`
}

type computeRequest struct {
	CustomerJourneys []wireJourney            `json:"customer_journeys"`
	Redistribution   *RedistributionParameter `json:"redistribution_parameter,omitempty"`
}

type wireResult struct {
	ConversionID string  `json:"conversion_id"`
	SessionID    string  `json:"session_id"`
	IHC          float64 `json:"ihc"`
}

type computeResponse struct {
	StatusCode           int               `json:"statusCode"`
	Message              string            `json:"message"`
	Value                []wireResult      `json:"value"`
	PartialFailureErrors []json.RawMessage `json:"partialFailureErrors"`
}

// ComputeIHC submits one chunk of journeys and returns the raw weights the
// service echoed back. Transient failures are retried up to the configured
// maximum; permanent (validation) failures return immediately.
func (c *Client) ComputeIHC(ctx context.Context, journeys []models.Journey) ([]models.AttributionResult, error) {
	body, err := json.Marshal(computeRequest{
		CustomerJourneys: toWire(journeys),
		Redistribution:   c.redistrib,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal journeys: %w", err)
	}

	endpoint := fmt.Sprintf("%s/compute_ihc?conv_type_id=%s", c.baseURL, url.QueryEscape(c.convTypeID))

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.metrics.CountRetry()
			delay := c.backoffDelay(attempt)
			c.logger.Warn("retrying scoring service call",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", c.maxRetries),
				zap.Duration("backoff", delay),
				zap.Error(lastErr),
			)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if c.quota != nil {
			if err := c.quota.Wait(ctx); err != nil {
				return nil, err
			}
		}

		results, err := c.doCall(ctx, endpoint, body)
		if err == nil {
			return results, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) doCall(ctx context.Context, endpoint string, body []byte) ([]models.AttributionResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network, connection or timeout error.
		return nil, &APIError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()
	c.metrics.ObserveAPICall(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Retryable:  isRetryableStatus(resp.StatusCode),
		}
	}

	var out computeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &APIError{Message: "malformed response: " + err.Error(), Retryable: true}
	}

	if out.StatusCode != http.StatusOK && out.StatusCode != http.StatusPartialContent {
		return nil, &APIError{StatusCode: out.StatusCode, Message: out.Message, Retryable: false}
	}
	if out.StatusCode == http.StatusPartialContent {
		c.logger.Warn("scoring service reported partial failures",
			zap.Int("failures", len(out.PartialFailureErrors)),
		)
		for _, failure := range out.PartialFailureErrors {
			c.logger.Warn("partial failure", zap.ByteString("detail", failure))
		}
	}

	results := make([]models.AttributionResult, 0, len(out.Value))
	for _, v := range out.Value {
		results = append(results, models.AttributionResult{
			ConvID:    v.ConversionID,
			SessionID: v.SessionID,
			IHC:       v.IHC,
		})
	}
	return results, nil
}

// backoffDelay returns the wait before the given retry attempt:
// exponential backoff capped at backoffMax, with full jitter.
func (c *Client) backoffDelay(attempt int) time.Duration {
	exp := float64(c.backoffBase) * math.Pow(2, float64(attempt-1))
	if exp > float64(c.backoffMax) {
		exp = float64(c.backoffMax)
	}
	jittered := time.Duration(rand.Float64() * exp)
	if jittered < 100*time.Millisecond {
		jittered = 100 * time.Millisecond
	}
	return jittered
}

func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func toWire(journeys []models.Journey) []wireJourney {
	out := make([]wireJourney, 0, len(journeys))
	for _, j := range journeys {
		wj := wireJourney{
			ConversionID: j.ConvID,
			Touchpoints:  make([]wireTouchpoint, 0, len(j.Touchpoints)),
		}
		for _, tp := range j.Touchpoints {
			wj.Touchpoints = append(wj.Touchpoints, wireTouchpoint{
				SessionID: tp.SessionID,
				Timestamp: tp.EventTime.UTC().Format(timestampLayout),
				Channel:   tp.Channel,
				Role:      tp.Role,
			})
		}
		out = append(out, wj)
	}
	return out
}
