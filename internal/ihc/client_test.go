package ihc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radiusdt/attribution-pipeline/internal/config"
	"github.com/radiusdt/attribution-pipeline/internal/models"
)

func testAPIConfig(baseURL string) config.APIConfig {
	return config.APIConfig{
		BaseURL:           baseURL,
		APIKey:            "test-key",
		ConvTypeID:        "orders",
		RequestTimeout:    5 * time.Second,
		MaxRetries:        3,
		BackoffBase:       time.Millisecond,
		BackoffMax:        5 * time.Millisecond,
		RequestsPerMinute: 6000,
	}
}

func testJourneys() []models.Journey {
	at := time.Date(2023, 9, 1, 10, 0, 0, 0, time.UTC)
	return []models.Journey{
		{
			ConvID:   "c1",
			UserID:   "u1",
			ConvTime: at.Add(time.Hour),
			Revenue:  50,
			Touchpoints: []models.Touchpoint{
				{SessionID: "s1", Channel: "Social", EventTime: at, Role: models.RoleInitializerCloser},
			},
		},
	}
}

func okBody(results ...wireResult) string {
	out, _ := json.Marshal(computeResponse{StatusCode: 200, Value: results})
	return string(out)
}

// TestComputeIHC_Success round-trips one journey and maps the returned
// weights back to attribution results.
func TestComputeIHC_Success(t *testing.T) {
	var gotPath, gotKey, gotType string
	var gotReq computeRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotKey = r.Header.Get("x-api-key")
		gotType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, okBody(wireResult{ConversionID: "c1", SessionID: "s1", IHC: 1.0}))
	}))
	defer srv.Close()

	c := NewClient(testAPIConfig(srv.URL), zap.NewNop(), nil)
	results, err := c.ComputeIHC(context.Background(), testJourneys())
	require.NoError(t, err)

	assert.Equal(t, "/compute_ihc?conv_type_id=orders", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "application/json", gotType)

	require.Len(t, gotReq.CustomerJourneys, 1)
	wj := gotReq.CustomerJourneys[0]
	assert.Equal(t, "c1", wj.ConversionID)
	require.Len(t, wj.Touchpoints, 1)
	assert.Equal(t, "2023-09-01 10:00:00", wj.Touchpoints[0].Timestamp)
	assert.Equal(t, models.RoleInitializerCloser, wj.Touchpoints[0].Role)

	require.Len(t, results, 1)
	assert.Equal(t, models.AttributionResult{ConvID: "c1", SessionID: "s1", IHC: 1.0}, results[0])
}

// TestComputeIHC_SendsRedistribution includes the redistribution parameter
// when one is attached.
func TestComputeIHC_SendsRedistribution(t *testing.T) {
	var gotReq computeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, okBody())
	}))
	defer srv.Close()

	c := NewClient(testAPIConfig(srv.URL), zap.NewNop(), nil)
	c.SetRedistribution(DefaultRedistribution("Direct"))

	_, err := c.ComputeIHC(context.Background(), testJourneys())
	require.NoError(t, err)
	require.NotNil(t, gotReq.Redistribution)
}

// TestComputeIHC_RetriesTransientFailures retries a 500 and a 429 and
// succeeds on the third attempt.
func TestComputeIHC_RetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusInternalServerError)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			fmt.Fprint(w, okBody(wireResult{ConversionID: "c1", SessionID: "s1", IHC: 1.0}))
		}
	}))
	defer srv.Close()

	c := NewClient(testAPIConfig(srv.URL), zap.NewNop(), nil)
	results, err := c.ComputeIHC(context.Background(), testJourneys())
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

// TestComputeIHC_NoRetryOnClientError returns a 400 immediately without
// retrying.
func TestComputeIHC_NoRetryOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(testAPIConfig(srv.URL), zap.NewNop(), nil)
	_, err := c.ComputeIHC(context.Background(), testJourneys())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.False(t, apiErr.Retryable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// TestComputeIHC_ExhaustsRetries gives up after maxRetries attempts and
// returns the last error.
func TestComputeIHC_ExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testAPIConfig(srv.URL)
	cfg.MaxRetries = 2
	c := NewClient(cfg, zap.NewNop(), nil)

	_, err := c.ComputeIHC(context.Background(), testJourneys())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

// TestComputeIHC_EmbeddedErrorStatus treats a 200 HTTP response carrying a
// non-200 application status as a permanent failure.
func TestComputeIHC_EmbeddedErrorStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		out, _ := json.Marshal(computeResponse{StatusCode: 400, Message: "invalid journey"})
		w.Write(out)
	}))
	defer srv.Close()

	c := NewClient(testAPIConfig(srv.URL), zap.NewNop(), nil)
	_, err := c.ComputeIHC(context.Background(), testJourneys())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "invalid journey")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// TestComputeIHC_PartialContent accepts a 206 application status and still
// returns the weights that did come back.
func TestComputeIHC_PartialContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out, _ := json.Marshal(computeResponse{
			StatusCode:           206,
			Value:                []wireResult{{ConversionID: "c1", SessionID: "s1", IHC: 1.0}},
			PartialFailureErrors: []json.RawMessage{json.RawMessage(`{"conversion_id":"c2"}`)},
		})
		w.Write(out)
	}))
	defer srv.Close()

	c := NewClient(testAPIConfig(srv.URL), zap.NewNop(), nil)
	results, err := c.ComputeIHC(context.Background(), testJourneys())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ConvID)
}

// TestComputeIHC_NetworkErrorRetries treats a connection failure as
// transient.
func TestComputeIHC_NetworkErrorRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	cfg := testAPIConfig(srv.URL)
	cfg.MaxRetries = 1
	c := NewClient(cfg, zap.NewNop(), nil)

	_, err := c.ComputeIHC(context.Background(), testJourneys())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Retryable)
}

// TestComputeIHC_ContextCanceled stops retrying once the context ends.
func TestComputeIHC_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(testAPIConfig(srv.URL), zap.NewNop(), nil)
	_, err := c.ComputeIHC(ctx, testJourneys())
	require.Error(t, err)
}

// TestBackoffDelay stays within the configured cap and above the floor.
func TestBackoffDelay(t *testing.T) {
	cfg := testAPIConfig("http://unused")
	cfg.BackoffBase = time.Second
	cfg.BackoffMax = 4 * time.Second
	c := NewClient(cfg, zap.NewNop(), nil)

	for attempt := 1; attempt <= 6; attempt++ {
		for i := 0; i < 50; i++ {
			d := c.backoffDelay(attempt)
			assert.GreaterOrEqual(t, d, 100*time.Millisecond)
			assert.LessOrEqual(t, d, 4*time.Second)
		}
	}
}
