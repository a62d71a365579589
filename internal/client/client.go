// Package client is the transport layer for managed services: one Client per
// remote base URL, every call wrapped in a bounded exponential-backoff policy.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrSnakeDoc/noteparser/internal/logger"
	"github.com/MrSnakeDoc/noteparser/internal/metrics"
	"github.com/MrSnakeDoc/noteparser/internal/retry"
)

const (
	// HealthPath is the well-known readiness endpoint every service exposes.
	HealthPath = "health"

	maxErrorBody = 512
	maxBody      = 32 << 20
)

// Result is the JSON object exchanged with a service. Pipeline stages consume
// and produce this shape.
type Result map[string]any

// Options configures a Client.
type Options struct {
	Timeout time.Duration // per-attempt timeout, 30s when zero
	Policy  retry.Policy  // retry budget and backoff, 3 attempts from 1s when zero
	Logger  logger.Logger // nop when nil
}

// Client owns exactly one *http.Client for its lifetime. The transport is
// acquired by Open and released by Close.
type Client struct {
	name    string
	baseURL string
	timeout time.Duration
	policy  retry.Policy
	log     logger.Logger

	mu   sync.RWMutex
	http *http.Client
}

// New builds a closed client. Call Open before use.
func New(name, baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = retry.Exponential(3, time.Second)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: opts.Timeout,
		policy:  opts.Policy,
		log:     opts.Logger,
	}
}

// Name returns the service name the client talks to.
func (c *Client) Name() string { return c.name }

// BaseURL returns the service root, without trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Timeout returns the per-attempt timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Open allocates the connection resource. Calling it on an open client is a no-op.
func (c *Client) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.http != nil {
		return
	}
	c.http = &http.Client{
		Timeout: c.timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   c.timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          8,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: c.timeout,
		},
	}
}

// IsOpen reports whether the connection resource is held.
func (c *Client) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.http != nil
}

// Close releases the connection resource. In-flight requests finish on their
// own; later calls fail with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	hc := c.http
	c.http = nil
	c.mu.Unlock()

	if hc != nil {
		hc.CloseIdleConnections()
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.http
}

func (c *Client) url(endpoint string, params url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// Do performs method on endpoint under the retry policy and returns the
// decoded JSON object. The returned error is a *ConnectionError,
// *TimeoutError or *StatusError for transport failures.
func (c *Client) Do(ctx context.Context, method, endpoint string, payload any) (Result, error) {
	return c.DoWithParams(ctx, method, endpoint, nil, payload)
}

// DoWithParams is Do with query parameters.
func (c *Client) DoWithParams(ctx context.Context, method, endpoint string, params url.Values, payload any) (Result, error) {
	start := time.Now()
	target := c.url(endpoint, params)

	var body []byte
	switch method {
	case http.MethodGet:
	case http.MethodPost:
		if payload == nil {
			payload = struct{}{}
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encode payload: %w", c.name, err)
		}
		body = b
	default:
		return nil, fmt.Errorf("%s: %w: %s", c.name, ErrUnsupportedMethod, method)
	}

	policy := c.policy
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.ClientRetries.WithLabelValues(c.name).Inc()
		c.log.Warn("service call failed, retrying",
			logger.String("service", c.name),
			logger.String("method", method),
			logger.String("endpoint", endpoint),
			logger.Int("attempt", attempt),
			logger.Duration("next_retry_in", delay),
			logger.Error(err))
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}

	res, err := retry.DoValue(ctx, policy, func(ctx context.Context, _ int) (Result, error) {
		metrics.ClientAttempts.WithLabelValues(c.name).Inc()
		return c.attempt(ctx, method, target, body)
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ClientRequests.WithLabelValues(c.name, method, outcome).Inc()
	metrics.ClientDuration.WithLabelValues(c.name, method).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) attempt(ctx context.Context, method, target string, body []byte) (Result, error) {
	hc := c.httpClient()
	if hc == nil {
		return nil, retry.Permanent(&ConnectionError{Service: c.name, URL: target, Err: ErrClientClosed})
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("%s: build request: %w", c.name, err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, c.classify(ctx, target, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Service:    c.name,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(excerpt)),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, c.classify(ctx, target, err)
	}
	res, err := decode(data)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("%s: decode response from %s: %w", c.name, target, err))
	}
	return res, nil
}

func (c *Client) classify(ctx context.Context, target string, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &ne) && ne.Timeout()) {
		return &TimeoutError{Service: c.name, URL: target, Err: err}
	}
	return &ConnectionError{Service: c.name, URL: target, Err: err}
}

// decode turns a response body into a Result. An empty body is an empty result
// and a non-object JSON value is wrapped under "data".
func decode(data []byte) (Result, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Result{}, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if m, ok := v.(map[string]any); ok {
		return Result(m), nil
	}
	return Result{"data": v}, nil
}

// Call is the boundary form of Do: it never fails. Once the retry budget is
// spent the error is folded into {"status": "error", "error": <message>}.
func (c *Client) Call(ctx context.Context, method, endpoint string, payload any) Result {
	return c.CallWithParams(ctx, method, endpoint, nil, payload)
}

// CallWithParams is Call with query parameters.
func (c *Client) CallWithParams(ctx context.Context, method, endpoint string, params url.Values, payload any) Result {
	res, err := c.DoWithParams(ctx, method, endpoint, params, payload)
	if err != nil {
		c.log.Error("service call failed",
			logger.String("service", c.name),
			logger.String("method", method),
			logger.String("endpoint", endpoint),
			logger.Error(err))
		return ErrorResult(err)
	}
	return res
}

// Get issues a GET through Call.
func (c *Client) Get(ctx context.Context, endpoint string) Result {
	return c.Call(ctx, http.MethodGet, endpoint, nil)
}

// GetWithParams issues a GET with query parameters through Call.
func (c *Client) GetWithParams(ctx context.Context, endpoint string, params url.Values) Result {
	return c.CallWithParams(ctx, http.MethodGet, endpoint, params, nil)
}

// Post issues a JSON POST through Call.
func (c *Client) Post(ctx context.Context, endpoint string, payload any) Result {
	return c.Call(ctx, http.MethodPost, endpoint, payload)
}

// HealthCheck performs a single GET /health bounded by the client timeout.
// Every failure, including a closed client, reads as unhealthy.
func (c *Client) HealthCheck(ctx context.Context) bool {
	hc := c.httpClient()
	if hc == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(HealthPath, nil), http.NoBody)
	if err != nil {
		return false
	}
	resp, err := hc.Do(req)
	if err != nil {
		c.log.Debug("health check failed",
			logger.String("service", c.name),
			logger.Error(err))
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
	}()
	return resp.StatusCode == http.StatusOK
}

// ErrorResult builds the structured terminal error value.
func ErrorResult(err error) Result {
	return Result{"status": "error", "error": err.Error()}
}

// IsErrorResult reports whether r is the structured error value and returns
// its message.
func IsErrorResult(r Result) (string, bool) {
	if r == nil {
		return "", false
	}
	status, _ := r["status"].(string)
	if status != "error" {
		return "", false
	}
	msg, _ := r["error"].(string)
	if msg == "" {
		msg = "unknown error"
	}
	return msg, true
}

// Clone returns a shallow copy of r.
func (r Result) Clone() Result {
	out := make(Result, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Str returns r[key] when it is a string.
func (r Result) Str(key string) string {
	s, _ := r[key].(string)
	return s
}
