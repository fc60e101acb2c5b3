// Package httpapi is the shared REST transport for chain indexers and nodes.
// It maps HTTP status ranges onto typed network errors, rate limits per host
// and retries idempotent reads. Submissions are never retried.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mrz1836/coinvault/internal/metrics"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 4 << 20

// StatusError is a non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("HTTP %d from %s %s: %s", e.StatusCode, e.Method, e.URL, body)
}

// Client is a small JSON-over-HTTP client bound to one base URL.
type Client struct {
	name       string
	baseURL    string
	host       string
	httpClient *http.Client
	limiter    *RateLimiter
	retry      RetryConfig
	headers    map[string]string
	recorder   *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimiter shares a rate limiter between clients.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(c *Client) {
		c.limiter = rl
	}
}

// WithRetry sets the retry policy for GET requests.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithMetrics records calls on m instead of metrics.Global.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.recorder = m
	}
}

// New creates a client. name identifies the endpoint in metrics and logs.
func New(name, baseURL string, opts ...Option) *Client {
	c := &Client{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    DefaultRateLimiter(),
		retry:      DefaultRetryConfig(),
		headers:    make(map[string]string),
		recorder:   metrics.Global,
	}
	if u, err := url.Parse(c.baseURL); err == nil {
		c.host = u.Host
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the endpoint name.
func (c *Client) Name() string {
	return c.name
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs a GET request, retrying rate limits and server errors.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return RetryWithConfig(ctx, c.retry, func() ([]byte, error) {
		return c.do(ctx, http.MethodGet, path, "", nil)
	})
}

// GetJSON performs a GET request and decodes the JSON response into dest.
func (c *Client) GetJSON(ctx context.Context, path string, dest any) error {
	body, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	return decode(path, body, dest)
}

// Post submits body once. The response body is returned for 2xx responses.
func (c *Client) Post(ctx context.Context, path, contentType string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, contentType, body)
}

// PostJSON marshals payload, submits it once and decodes the response into dest.
// dest may be nil.
func (c *Client) PostJSON(ctx context.Context, path string, payload, dest any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return vaulterr.WithCause(vaulterr.ErrEncoding, err)
	}
	body, err := c.Post(ctx, path, "application/json", raw)
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	return decode(path, body, dest)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) (out []byte, err error) {
	start := time.Now()
	defer func() {
		c.recorder.RecordRPCCall(c.name, time.Since(start), err)
	}()

	if err = c.limiter.Wait(ctx, c.host); err != nil {
		return nil, err
	}

	target := c.baseURL + path
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, vaulterr.WithCause(vaulterr.ErrInvalidInput, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, vaulterr.WithDetails(
			vaulterr.WithCause(vaulterr.ErrNetworkError, err),
			map[string]string{"endpoint": c.name},
		)
	}
	// Body.Close error is intentionally ignored as it only fails if the
	// connection is already broken, and there's no recovery action.
	defer func() { _ = resp.Body.Close() }()

	out, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, vaulterr.WithCause(vaulterr.ErrNetworkError, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{
			Method:     method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(out)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
		sentinel := vaulterr.ErrHTTPStatus
		if resp.StatusCode == http.StatusTooManyRequests {
			sentinel = ErrRateLimited
		}
		return out, vaulterr.WithDetails(vaulterr.WithCause(sentinel, se), map[string]string{
			"endpoint": c.name,
			"status":   strconv.Itoa(resp.StatusCode),
		})
	}

	return out, nil
}

func decode(path string, body []byte, dest any) error {
	if err := json.Unmarshal(body, dest); err != nil {
		return vaulterr.WithDetails(vaulterr.WithCause(vaulterr.ErrDecoding, err), map[string]string{"path": path})
	}
	return nil
}
