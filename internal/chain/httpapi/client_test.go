package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/coinvault/internal/metrics"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestClient_GetJSON(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/abc", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"balance":"42"}`))
	}))
	defer server.Close()

	m := &metrics.Metrics{}
	c := New("test", server.URL+"/", WithHeader("X-Api-Key", "secret"), WithMetrics(m))

	var out struct {
		Balance string `json:"balance"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "/accounts/abc", &out))
	assert.Equal(t, "42", out.Balance)
	assert.Equal(t, int64(1), m.Snapshot().EndpointCalls["test"])
}

func TestClient_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"bad request", http.StatusBadRequest, vaulterr.ErrHTTPStatus},
		{"not found", http.StatusNotFound, vaulterr.ErrHTTPStatus},
		{"server error", http.StatusBadGateway, vaulterr.ErrHTTPStatus},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer server.Close()

			c := New("test", server.URL, WithRetry(NoRetry()), WithMetrics(&metrics.Metrics{}))
			_, err := c.Get(context.Background(), "/x")
			require.Error(t, err)
			require.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, vaulterr.ClassNetwork, vaulterr.ClassOf(err))

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, "nope", se.Body)
		})
	}
}

func TestClient_GetRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New("test", server.URL, WithRetry(fastRetry()), WithMetrics(&metrics.Metrics{}))
	_, err := c.Get(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_GetDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := New("test", server.URL, WithRetry(fastRetry()), WithMetrics(&metrics.Metrics{}))
	_, err := c.Get(context.Background(), "/")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_PostIsSubmittedOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := New("test", server.URL, WithRetry(fastRetry()), WithMetrics(&metrics.Metrics{}))
	_, err := c.Post(context.Background(), "/tx", "text/plain", []byte("deadbeef"))
	require.ErrorIs(t, err, vaulterr.ErrHTTPStatus)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_DecodingError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	c := New("test", server.URL, WithMetrics(&metrics.Metrics{}))
	var out map[string]any
	err := c.GetJSON(context.Background(), "/", &out)
	require.ErrorIs(t, err, vaulterr.ErrDecoding)
	assert.Equal(t, vaulterr.ClassNetwork, vaulterr.ClassOf(err))
}

func TestClient_TransportError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	base := server.URL
	server.Close()

	c := New("test", base, WithRetry(NoRetry()), WithMetrics(&metrics.Metrics{}))
	_, err := c.Get(context.Background(), "/")
	require.ErrorIs(t, err, vaulterr.ErrNetworkError)
}

var errOther = errors.New("other")

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	assert.True(t, IsRetryable(ErrRetryable))
	assert.True(t, IsRetryable(ErrRateLimited))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(vaulterr.WithCause(vaulterr.ErrHTTPStatus, &StatusError{StatusCode: 500})))
	assert.False(t, IsRetryable(vaulterr.WithCause(vaulterr.ErrHTTPStatus, &StatusError{StatusCode: 404})))
	assert.False(t, IsRetryable(errOther))
	assert.False(t, IsRetryable(nil))
}

func TestRetryWithConfig_ContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	_, err := RetryWithConfig(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second}, func() (int, error) {
		attempts++
		return 0, ErrRetryable
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		header   string
		expected time.Duration
	}{
		{"5", 5 * time.Second},
		{"0", 0},
		{"", 0},
		{"-3", 0},
		{"invalid", 0},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, ParseRetryAfter(tt.header))
		})
	}
}

func TestRateLimiter_SeparateHosts(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(10, 2)

	assert.True(t, rl.Allow("a.example"))
	assert.True(t, rl.Allow("a.example"))
	assert.False(t, rl.Allow("a.example"))

	assert.True(t, rl.Allow("b.example"))
}

func TestRateLimiter_Unlimited(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow("x"))
	}
}
