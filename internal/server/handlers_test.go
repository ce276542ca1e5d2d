package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infergate/internal/core"
	"infergate/internal/health"
	"infergate/internal/orchestrator"
	"infergate/internal/router"
)

type fakeSecrets struct {
	mu          sync.Mutex
	values      map[string]string
	invalidated []string
	err         error
}

func (s *fakeSecrets) Get(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.values[name], nil
}

func (s *fakeSecrets) Invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, name)
}

func (s *fakeSecrets) set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

// fakeChat returns a canned result and remembers the last request.
type fakeChat struct {
	result *orchestrator.Result
	err    error
	last   *core.ChatRequest
	lastID string
}

func (f *fakeChat) Handle(ctx context.Context, req *core.ChatRequest) (*orchestrator.Result, error) {
	f.last = req
	f.lastID = core.GetRequestID(ctx)
	return f.result, f.err
}

type staticModels []core.ModelDescriptor

func (m staticModels) Models() []core.ModelDescriptor { return m }

type okPinger struct{ err error }

func (p okPinger) Ping(context.Context) error { return p.err }

const chatBody = `{"model":"phi-3-mini","messages":[{"role":"user","content":"Hi"}]}`

func newTestContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(core.WithRequestID(req.Context(), "req-42"))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestChatCompletion_JSON(t *testing.T) {
	body := []byte(`{"id":"chatcmpl-1","object":"chat.completion"}`)
	chat := &fakeChat{result: &orchestrator.Result{
		RequestID:   "req-42",
		Model:       "phi-3-mini",
		CacheStatus: core.CacheMiss,
		Body:        body,
		Duration:    1500 * time.Millisecond,
	}}
	h := NewHandler(Deps{Orchestrator: chat})

	c, rec := newTestContext(http.MethodPost, "/v1/chat/completions", chatBody)
	require.NoError(t, h.ChatCompletion(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(body), rec.Body.String())
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
	assert.Equal(t, "phi-3-mini", rec.Header().Get("X-Model"))
	assert.Equal(t, "1500", rec.Header().Get("X-Duration-Ms"))
	assert.Equal(t, fmt.Sprintf(`"%016x"`, xxhash.Sum64(body)), rec.Header().Get("ETag"))
	assert.Empty(t, rec.Header().Get("X-Prompt-Warning"))

	require.NotNil(t, chat.last)
	assert.Equal(t, "phi-3-mini", chat.last.Model)
	assert.Equal(t, "req-42", chat.lastID)
}

func TestChatCompletion_PromptWarningHeader(t *testing.T) {
	chat := &fakeChat{result: &orchestrator.Result{
		Model:       "mixtral-8x7b",
		CacheStatus: core.CacheMiss,
		Body:        []byte(`{}`),
		Warning:     &router.PromptTooLongWarning{Model: "mixtral-8x7b", ContextLength: 32768, EstimatedTokens: 50000},
	}}
	h := NewHandler(Deps{Orchestrator: chat})

	c, rec := newTestContext(http.MethodPost, "/v1/chat/completions", chatBody)
	require.NoError(t, h.ChatCompletion(c))
	assert.Contains(t, rec.Header().Get("X-Prompt-Warning"), "50000")
}

func TestChatCompletion_Stream(t *testing.T) {
	sse := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\ndata: [DONE]\n\n"
	stream := &closeTracker{Reader: strings.NewReader(sse)}
	chat := &fakeChat{result: &orchestrator.Result{
		RequestID:   "req-42",
		Model:       "phi-3-mini",
		CacheStatus: core.CacheBypass,
		Stream:      stream,
	}}
	h := NewHandler(Deps{Orchestrator: chat})

	c, rec := newTestContext(http.MethodPost, "/v1/chat/completions",
		`{"model":"phi-3-mini","stream":true,"messages":[{"role":"user","content":"Hi"}]}`)
	require.NoError(t, h.ChatCompletion(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sse, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "bypass", rec.Header().Get("X-Cache"))
	assert.Empty(t, rec.Header().Get("ETag"))
	assert.True(t, chat.last.Stream)
	assert.True(t, stream.closed)
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestChatCompletion_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		errType  string
		message  string
		hasModel bool
	}{
		{
			name:    "invalid request",
			err:     core.NewInvalidRequestError("messages must contain at least one message", nil),
			status:  http.StatusBadRequest,
			errType: "invalid_request_error",
			message: "messages must contain at least one message",
		},
		{
			name:    "unknown model",
			err:     core.NewUnknownModelError("gpt-9"),
			status:  http.StatusNotFound,
			errType: "unknown_model_error",
			message: `model "gpt-9" is not available`,
		},
		{
			name:     "backend unavailable",
			err:      core.NewBackendUnavailableError("phi-3-mini", fmt.Errorf("dial tcp 10.1.2.3:8000: refused")),
			status:   http.StatusServiceUnavailable,
			errType:  "backend_unavailable_error",
			message:  "inference backend is temporarily unavailable",
			hasModel: true,
		},
		{
			name:    "unexpected error",
			err:     fmt.Errorf("boom"),
			status:  http.StatusInternalServerError,
			errType: "internal_error",
			message: "an unexpected error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &orchestrator.Result{RequestID: "req-42", CacheStatus: core.CacheMiss}
			if tt.hasModel {
				res.Model = "phi-3-mini"
			}
			h := NewHandler(Deps{Orchestrator: &fakeChat{result: res, err: tt.err}})

			c, rec := newTestContext(http.MethodPost, "/v1/chat/completions", chatBody)
			require.NoError(t, h.ChatCompletion(c))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
			assert.NotContains(t, rec.Body.String(), "10.1.2.3")

			var body struct {
				Error struct {
					Type    string `json:"type"`
					Message string `json:"message"`
				} `json:"error"`
				RequestID string `json:"request_id"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.errType, body.Error.Type)
			assert.Equal(t, tt.message, body.Error.Message)
			assert.Equal(t, "req-42", body.RequestID)
		})
	}
}

func TestChatCompletion_MalformedBody(t *testing.T) {
	chat := &fakeChat{}
	h := NewHandler(Deps{Orchestrator: chat})

	c, rec := newTestContext(http.MethodPost, "/v1/chat/completions", `{"model":`)
	require.NoError(t, h.ChatCompletion(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request_error")
	assert.Nil(t, chat.last, "orchestrator is not called")
}

func TestListModels(t *testing.T) {
	h := NewHandler(Deps{Models: staticModels{
		{ID: "phi-3-mini", ContextLength: 4096, PricePer1KTokens: 0.0005, OwnedBy: "microsoft", Created: 1700000000},
		{ID: "mixtral-8x7b", ContextLength: 32768, PricePer1KTokens: 0.002, OwnedBy: "mistralai", Created: 1700000000},
	}})

	c, rec := newTestContext(http.MethodGet, "/v1/models", "")
	require.NoError(t, h.ListModels(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp core.ModelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "list", resp.Object)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "phi-3-mini", resp.Data[0].ID)
	assert.Equal(t, "model", resp.Data[0].Object)
	assert.Equal(t, 32768, resp.Data[1].ContextLength)
}

func TestHealthEndpoints(t *testing.T) {
	checker := health.New(health.Config{Version: "test"},
		health.Probe{Name: health.CheckSecretStore, Critical: true, Pinger: okPinger{}},
		health.Probe{Name: health.CheckCacheStore, Pinger: okPinger{err: fmt.Errorf("redis down")}},
	)
	h := NewHandler(Deps{Health: checker})

	tests := []struct {
		name    string
		handler echo.HandlerFunc
		kind    string
		status  string
		checks  []string
	}{
		{"live", h.Liveness, "live", "healthy", []string{"self"}},
		{"ready", h.Readiness, "ready", "degraded", []string{"secret_store", "cache_store"}},
		{"startup", h.Startup, "startup", "degraded", []string{"secret_store", "cache_store"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newTestContext(http.MethodGet, "/health/"+tt.kind, "")
			require.NoError(t, tt.handler(c))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
			assert.Equal(t, tt.kind, rec.Header().Get("X-Health-Check"))

			var report health.Report
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
			assert.Equal(t, health.Status(tt.status), report.Status)
			assert.Equal(t, "test", report.Version)
			for _, name := range tt.checks {
				assert.Contains(t, report.Checks, name)
			}
		})
	}
}

func TestReadiness_Unhealthy(t *testing.T) {
	checker := health.New(health.Config{},
		health.Probe{Name: health.CheckSecretStore, Critical: true, Pinger: okPinger{err: fmt.Errorf("vault unreachable")}},
	)
	h := NewHandler(Deps{Health: checker})

	c, rec := newTestContext(http.MethodGet, "/health/ready", "")
	require.NoError(t, h.Readiness(c))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unhealthy"`)
}

func TestInvalidateSecret(t *testing.T) {
	secrets := &fakeSecrets{values: map[string]string{}}
	h := NewHandler(Deps{Secrets: secrets})

	c, rec := newTestContext(http.MethodDelete, "/admin/cache/secrets/internal-service-key", "")
	c.SetParamNames("name")
	c.SetParamValues("internal-service-key")
	require.NoError(t, h.InvalidateSecret(c))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"internal-service-key"}, secrets.invalidated)

	h = NewHandler(Deps{})
	c, rec = newTestContext(http.MethodDelete, "/admin/cache/secrets/x", "")
	require.NoError(t, h.InvalidateSecret(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
