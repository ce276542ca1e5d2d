package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infergate/internal/admin"
	"infergate/internal/cache"
	"infergate/internal/core"
	"infergate/internal/health"
	"infergate/internal/orchestrator"
	"infergate/internal/router"
	"infergate/internal/tokens"
)

type countingBackend struct {
	calls atomic.Int32
	last  atomic.Pointer[core.InferenceRequest]
}

func (b *countingBackend) Complete(_ context.Context, req *core.InferenceRequest) ([]byte, error) {
	b.calls.Add(1)
	b.last.Store(req)
	return []byte(`{"id":"chatcmpl-9","object":"chat.completion","model":"` + req.Model + `","choices":[{"index":0,"message":{"role":"assistant","content":"Hello!"},"finish_reason":"stop"}],"usage":{"prompt_tokens":2,"completion_tokens":2,"total_tokens":4}}`), nil
}

func (b *countingBackend) Stream(_ context.Context, req *core.InferenceRequest) (io.ReadCloser, error) {
	b.calls.Add(1)
	b.last.Store(req)
	return io.NopCloser(strings.NewReader("data: [DONE]\n\n")), nil
}

type testServer struct {
	srv     *Server
	backend *countingBackend
	secrets *fakeSecrets
}

func newTestServer(t *testing.T, cfg *Config) *testServer {
	t.Helper()
	rt, err := router.New([]core.ModelDescriptor{
		{ID: "phi-3-mini", ContextLength: 4096, PricePer1KTokens: 0.0005, Priority: 0},
		{ID: "mixtral-8x7b", ContextLength: 32768, PricePer1KTokens: 0.002, Priority: 1},
	})
	require.NoError(t, err)

	backend := &countingBackend{}
	secrets := &fakeSecrets{values: map[string]string{"gateway-master-key": "from-vault"}}
	orch := orchestrator.New(orchestrator.DefaultConfig(), rt, tokens.CharEstimator{},
		cache.New(cache.NewMemoryStore(), cache.Config{}), backend, nil)
	checker := health.New(health.Config{},
		health.Probe{Name: health.CheckSecretStore, Critical: true, Pinger: okPinger{}},
	)

	srv := New(Deps{Orchestrator: orch, Models: rt, Health: checker, Secrets: secrets}, cfg)
	return &testServer{srv: srv, backend: backend, secrets: secrets}
}

func (ts *testServer) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}

func TestChatCompletion_MissThenHit(t *testing.T) {
	ts := newTestServer(t, nil)
	body := `{"model":"auto","messages":[{"role":"user","content":"Hello"}],"max_tokens":50}`

	first := ts.do(http.MethodPost, "/v1/chat/completions", body, nil)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, "miss", first.Header().Get("X-Cache"))
	assert.Equal(t, "phi-3-mini", first.Header().Get("X-Model"))
	assert.NotEmpty(t, first.Header().Get("X-Duration-Ms"))
	assert.NotEmpty(t, first.Header().Get("ETag"))

	sent := ts.backend.last.Load()
	require.NotNil(t, sent)
	assert.Equal(t, "phi-3-mini", sent.Model)
	assert.Equal(t, 50, sent.MaxTokens)

	second := ts.do(http.MethodPost, "/v1/chat/completions", body, nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "hit", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, first.Header().Get("ETag"), second.Header().Get("ETag"))
	assert.Equal(t, int32(1), ts.backend.calls.Load())
}

func TestChatCompletion_StreamOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/v1/chat/completions",
		`{"model":"phi-3-mini","stream":true,"messages":[{"role":"user","content":"Hello"}]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bypass", rec.Header().Get("X-Cache"))
	assert.Equal(t, "data: [DONE]\n\n", rec.Body.String())
}

func TestRequestIDMiddleware(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("generates request ID when missing", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/health/live", "", nil)
		_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
		assert.NoError(t, err)
	})

	t.Run("preserves existing request ID", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/health/live", "", map[string]string{"X-Request-ID": "my-custom-id"})
		assert.Equal(t, "my-custom-id", rec.Header().Get("X-Request-ID"))
	})

	t.Run("request ID reaches the error body", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/v1/chat/completions", `{"model":"nope","messages":[{"role":"user","content":"x"}]}`,
			map[string]string{"X-Request-ID": "trace-7"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "trace-7", rec.Header().Get("X-Request-ID"))
		assert.Contains(t, rec.Body.String(), `"request_id":"trace-7"`)
	})
}

func TestHealthRoutes(t *testing.T) {
	ts := newTestServer(t, &Config{MasterKey: "k"})

	for _, kind := range []string{"live", "ready", "startup"} {
		rec := ts.do(http.MethodGet, "/health/"+kind, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, kind)
		assert.Equal(t, kind, rec.Header().Get("X-Health-Check"))
	}

	rec := ts.do(http.MethodGet, "/health/deep", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Unknown check type: deep"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	tests := []struct {
		name           string
		config         *Config
		requestPath    string
		expectedStatus int
		expectBody     string
	}{
		{
			name:           "metrics enabled - default endpoint accessible",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/metrics"},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
		{
			name:           "metrics enabled - empty endpoint defaults to /metrics",
			config:         &Config{MetricsEnabled: true},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
		{
			name:           "metrics enabled - custom endpoint, auth exempt",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/internal/prom", MasterKey: "k"},
			requestPath:    "/internal/prom",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
		{
			name:           "metrics disabled - endpoint not found",
			config:         &Config{MetricsEnabled: false},
			requestPath:    "/metrics",
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.config)
			rec := ts.do(http.MethodGet, tt.requestPath, "", nil)
			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectBody != "" {
				assert.Contains(t, rec.Body.String(), tt.expectBody)
			}
		})
	}
}

func TestServerAuth(t *testing.T) {
	t.Run("static master key", func(t *testing.T) {
		ts := newTestServer(t, &Config{MasterKey: "static"})

		assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/v1/models", "", nil).Code)
		assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/v1/models", "",
			map[string]string{"Authorization": "Bearer static"}).Code)
	})

	t.Run("master key from secret store", func(t *testing.T) {
		ts := newTestServer(t, &Config{MasterKey: "static", MasterKeySecret: "gateway-master-key"})

		assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/v1/models", "",
			map[string]string{"Authorization": "Bearer static"}).Code)
		assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/v1/models", "",
			map[string]string{"Authorization": "Bearer from-vault"}).Code)
	})

	t.Run("admin route requires auth", func(t *testing.T) {
		ts := newTestServer(t, &Config{MasterKey: "static"})

		assert.Equal(t, http.StatusUnauthorized,
			ts.do(http.MethodDelete, "/admin/cache/secrets/internal-service-key", "", nil).Code)
		rec := ts.do(http.MethodDelete, "/admin/cache/secrets/internal-service-key", "",
			map[string]string{"Authorization": "Bearer static"})
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, []string{"internal-service-key"}, ts.secrets.invalidated)
	})

	t.Run("no key configured", func(t *testing.T) {
		ts := newTestServer(t, nil)
		assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/v1/models", "", nil).Code)
	})
}

func TestBodySizeLimit(t *testing.T) {
	ts := newTestServer(t, &Config{BodySizeLimit: "1K"})

	big := `{"model":"auto","messages":[{"role":"user","content":"` + strings.Repeat("a", 4096) + `"}]}`
	rec := ts.do(http.MethodPost, "/v1/chat/completions", big, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, ts.backend.calls.Load())
}

func TestSwaggerEndpoint(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		ts := newTestServer(t, &Config{SwaggerEnabled: true})
		rec := ts.do(http.MethodGet, "/swagger/index.html", "", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rec.Body.String(), "swagger")
	})

	t.Run("disabled", func(t *testing.T) {
		ts := newTestServer(t, &Config{SwaggerEnabled: false})
		assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/swagger/index.html", "", nil).Code)
	})

	t.Run("nil config", func(t *testing.T) {
		ts := newTestServer(t, nil)
		assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/swagger/index.html", "", nil).Code)
	})

	t.Run("served without the master key", func(t *testing.T) {
		ts := newTestServer(t, &Config{SwaggerEnabled: true, MasterKey: "static"})
		assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/swagger/index.html", "", nil).Code)
		assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/v1/models", "", nil).Code)
	})
}

func TestSwaggerDocJSON(t *testing.T) {
	ts := newTestServer(t, &Config{SwaggerEnabled: true})
	rec := ts.do(http.MethodGet, "/swagger/doc.json", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "infergate API")
	assert.Contains(t, body, "swagger")

	var doc struct {
		Paths map[string]json.RawMessage `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	for _, p := range []string{
		"/v1/chat/completions",
		"/v1/models",
		"/health/ready",
		"/admin/api/v1/usage/summary",
		"/admin/api/v1/usage/daily",
	} {
		assert.Contains(t, doc.Paths, p)
	}
}

func TestAdminUsageRoutes(t *testing.T) {
	t.Run("mounted behind the master key", func(t *testing.T) {
		ts := newTestServer(t, &Config{MasterKey: "static", AdminHandler: admin.NewHandler(nil)})

		assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/admin/api/v1/usage/summary", "", nil).Code)

		auth := map[string]string{"Authorization": "Bearer static"}
		rec := ts.do(http.MethodGet, "/admin/api/v1/usage/summary", "", auth)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"by_model":[]`)

		rec = ts.do(http.MethodGet, "/admin/api/v1/usage/daily?interval=monthly", "", auth)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("not mounted without a handler", func(t *testing.T) {
		ts := newTestServer(t, nil)
		assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/admin/api/v1/usage/summary", "", nil).Code)
	})
}
