// Package backend is the HTTP client for the GPU-hosted inference servers:
//   - OpenAI-compatible /v1/chat/completions requests with the internal service key
//   - retries with exponential backoff and jitter (non-streaming only)
//   - a circuit breaker per model
//   - backend health probes
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"infergate/internal/core"
	"infergate/internal/observability"
	"infergate/internal/secrets"
)

const (
	chatCompletionsPath = "/v1/chat/completions"
	defaultHealthPath   = "/health"
)

// Config holds configuration for the backend client
type Config struct {
	// BaseURL is the default backend base URL, used by models without their own
	BaseURL string

	// HealthPath is probed with GET by Ping
	HealthPath string

	// APIKeySecret names the secret sent as the Bearer token. Empty disables auth.
	APIKeySecret string

	// RequestTimeout bounds a non-streaming call including retries. Zero
	// leaves it to the caller's context.
	RequestTimeout time.Duration

	// Retry configuration
	MaxRetries     int           // Maximum number of retry attempts (default: 2)
	InitialBackoff time.Duration // Initial backoff duration (default: 500ms)
	MaxBackoff     time.Duration // Maximum backoff duration (default: 10s)
	BackoffFactor  float64       // Backoff multiplier (default: 2.0)
	BackoffJitter  float64       // Fraction of the backoff randomized in both directions (default: 0.1)

	CircuitBreaker CircuitBreakerConfig
}

// DefaultConfig returns default client configuration
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		HealthPath:     defaultHealthPath,
		APIKeySecret:   "internal-service-key",
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		BackoffJitter:  0.1,
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: defaultFailureThreshold,
			Timeout:          defaultBreakerTimeout,
		},
	}
}

// KeySource resolves the internal service key. *secrets.Resolver satisfies it.
type KeySource interface {
	Get(ctx context.Context, name string) (string, error)
	Invalidate(name string)
}

// Client sends inference requests to model backends.
type Client struct {
	httpClient *http.Client
	config     Config
	keys       KeySource
	// baseURLs maps model id to its backend base URL
	baseURLs map[string]string
	breakers *breakerSet
}

// New creates a backend client. models supplies per-model backend URLs;
// keys may be nil when the backends require no authentication.
func New(config Config, models []core.ModelDescriptor, keys KeySource, httpClient *http.Client) *Client {
	if config.HealthPath == "" {
		config.HealthPath = defaultHealthPath
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	baseURLs := make(map[string]string, len(models))
	for _, m := range models {
		if m.BackendURL != "" {
			baseURLs[m.ID] = strings.TrimRight(m.BackendURL, "/")
		}
	}

	return &Client{
		httpClient: httpClient,
		config:     config,
		keys:       keys,
		baseURLs:   baseURLs,
		breakers:   newBreakerSet(config.CircuitBreaker),
	}
}

// Complete sends a non-streaming completion and returns the raw JSON body.
func (c *Client) Complete(ctx context.Context, req *core.InferenceRequest) ([]byte, error) {
	ctx, span := observability.StartSpan(ctx, "backend.complete",
		attribute.String("model", req.Model),
		attribute.String("backend.url", c.baseURL(req.Model)),
	)
	start := time.Now()

	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}
	body, err := c.complete(ctx, req)

	c.record(req.Model, start, err)
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) complete(ctx context.Context, req *core.InferenceRequest) ([]byte, error) {
	auth, err := c.authorization(ctx)
	if err != nil {
		return nil, core.NewBackendUnavailableError(req.Model, err)
	}

	payload := *req
	payload.Stream = false
	data, err := json.Marshal(&payload)
	if err != nil {
		return nil, core.NewInternalError("failed to marshal backend request", err)
	}

	body, err := c.breakers.get(req.Model).Execute(func() ([]byte, error) {
		return c.doWithRetries(ctx, req.Model, data, auth)
	})
	return body, breakerError(req.Model, err)
}

// doWithRetries posts data, retrying network errors and retryable statuses.
func (c *Client) doWithRetries(ctx context.Context, model string, data []byte, auth string) ([]byte, error) {
	var lastErr error
	maxAttempts := c.config.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt)
			slog.Debug("retrying backend request", "model", model, "attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, core.NewBackendUnavailableError(model, ctx.Err())
			case <-time.After(backoff):
			}
		}

		resp, err := c.post(ctx, model, data, auth, "application/json")
		if err != nil {
			lastErr = core.NewBackendUnavailableError(model, err)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = core.NewBackendUnavailableError(model, fmt.Errorf("failed to read response: %w", err))
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}

		if isRetryable(resp.StatusCode) {
			lastErr = core.ParseBackendError(model, resp.StatusCode, body, nil)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.rejectKey(resp.StatusCode)
			return nil, core.ParseBackendError(model, resp.StatusCode, body, nil)
		}

		if !json.Valid(body) {
			return nil, core.NewBackendUnavailableError(model, errors.New("backend returned a non-JSON body"))
		}
		return body, nil
	}

	return nil, lastErr
}

// Stream opens a streaming completion and returns the raw SSE body.
// Streams are never retried since the client may already hold partial output.
func (c *Client) Stream(ctx context.Context, req *core.InferenceRequest) (io.ReadCloser, error) {
	start := time.Now()
	stream, err := c.stream(ctx, req)
	c.record(req.Model, start, err)
	return stream, err
}

func (c *Client) stream(ctx context.Context, req *core.InferenceRequest) (io.ReadCloser, error) {
	auth, err := c.authorization(ctx)
	if err != nil {
		return nil, core.NewBackendUnavailableError(req.Model, err)
	}

	payload := *req
	payload.Stream = true
	data, err := json.Marshal(&payload)
	if err != nil {
		return nil, core.NewInternalError("failed to marshal backend request", err)
	}

	// The breaker guards opening the stream; errors mid-stream do not count.
	var stream io.ReadCloser
	_, err = c.breakers.get(req.Model).Execute(func() ([]byte, error) {
		resp, err := c.post(ctx, req.Model, data, auth, "text/event-stream")
		if err != nil {
			return nil, core.NewBackendUnavailableError(req.Model, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				body = []byte("failed to read error response")
			}
			_ = resp.Body.Close()
			c.rejectKey(resp.StatusCode)
			return nil, core.ParseBackendError(req.Model, resp.StatusCode, body, nil)
		}
		stream = resp.Body
		return nil, nil
	})
	if err != nil {
		return nil, breakerError(req.Model, err)
	}
	return stream, nil
}

// Ping GETs the health path of every configured backend.
func (c *Client) Ping(ctx context.Context) error {
	var errs []error
	for _, base := range c.endpoints() {
		if err := c.ping(ctx, base); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) ping(ctx context.Context, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+c.config.HealthPath, nil)
	if err != nil {
		return fmt.Errorf("build health request for %s: %w", base, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s unreachable: %w", base, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend %s health returned %d", base, resp.StatusCode)
	}
	return nil
}

// post sends one completion request without retries. The caller owns the body.
func (c *Client) post(ctx context.Context, model string, data []byte, auth, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL(model)+chatCompletionsPath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if requestID := core.GetRequestID(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

// authorization returns the Authorization header value. A missing key
// sends the request unauthenticated; an unreachable store fails it.
func (c *Client) authorization(ctx context.Context) (string, error) {
	if c.keys == nil || c.config.APIKeySecret == "" {
		return "", nil
	}
	key, err := c.keys.Get(ctx, c.config.APIKeySecret)
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			slog.Debug("backend key not configured, sending unauthenticated request", "secret", c.config.APIKeySecret)
			return "", nil
		}
		return "", fmt.Errorf("resolve backend key: %w", err)
	}
	return "Bearer " + key, nil
}

// rejectKey drops the cached service key after the backend refused it,
// so a rotated key is picked up on the next request.
func (c *Client) rejectKey(statusCode int) {
	if c.keys == nil || c.config.APIKeySecret == "" {
		return
	}
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		slog.Warn("backend rejected service key, invalidating cached value", "secret", c.config.APIKeySecret, "status", statusCode)
		c.keys.Invalidate(c.config.APIKeySecret)
	}
}

func (c *Client) baseURL(model string) string {
	if u, ok := c.baseURLs[model]; ok {
		return u
	}
	return strings.TrimRight(c.config.BaseURL, "/")
}

// endpoints returns the distinct backend base URLs.
func (c *Client) endpoints() []string {
	seen := map[string]bool{}
	urls := []string{}
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	add(strings.TrimRight(c.config.BaseURL, "/"))
	for _, u := range c.baseURLs {
		add(u)
	}
	return urls
}

// calculateBackoff calculates the backoff duration for a given attempt
func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := float64(c.config.InitialBackoff) * math.Pow(c.config.BackoffFactor, float64(attempt-1))
	if backoff > float64(c.config.MaxBackoff) {
		backoff = float64(c.config.MaxBackoff)
	}
	if c.config.BackoffJitter > 0 {
		backoff += backoff * c.config.BackoffJitter * (2*rand.Float64() - 1)
	}
	return time.Duration(backoff)
}

func (c *Client) record(model string, start time.Time, err error) {
	observability.BackendLatency.WithLabelValues(model).Observe(time.Since(start).Seconds())
	observability.BackendRequests.WithLabelValues(model, outcome(err)).Inc()
}

// isRetryable returns true if the status code indicates a retryable error
func isRetryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusGatewayTimeout
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	if errors.Is(err, errCircuitOpen) {
		return "circuit_open"
	}
	var gwErr *core.GatewayError
	if errors.As(err, &gwErr) && gwErr.Type == core.ErrorTypeInvalidRequest {
		return "client_error"
	}
	return "unavailable"
}

var (
	_ core.InferenceBackend = (*Client)(nil)
	_ core.Pinger           = (*Client)(nil)
)
