// Package server provides HTTP handlers and server setup for the inference gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/labstack/echo/v4"

	"infergate/internal/core"
	"infergate/internal/health"
	"infergate/internal/orchestrator"
)

// ChatHandler serves chat completion requests.
type ChatHandler interface {
	Handle(ctx context.Context, req *core.ChatRequest) (*orchestrator.Result, error)
}

// ModelLister exposes the model catalog.
type ModelLister interface {
	Models() []core.ModelDescriptor
}

// HealthChecker produces probe reports.
type HealthChecker interface {
	Liveness() health.Report
	Readiness(ctx context.Context) health.Report
	Startup(ctx context.Context) health.Report
}

// SecretStore is the part of the secret resolver the server uses.
type SecretStore interface {
	Get(ctx context.Context, name string) (string, error)
	Invalidate(name string)
}

// Response headers on the completions endpoint.
const (
	HeaderCache         = "X-Cache"
	HeaderModel         = "X-Model"
	HeaderDuration      = "X-Duration-Ms"
	HeaderPromptWarning = "X-Prompt-Warning"
	HeaderHealthCheck   = "X-Health-Check"
)

// Handler holds the HTTP handlers
type Handler struct {
	orchestrator ChatHandler
	models       ModelLister
	health       HealthChecker
	secrets      SecretStore
}

// NewHandler creates a new handler over deps
func NewHandler(deps Deps) *Handler {
	return &Handler{
		orchestrator: deps.Orchestrator,
		models:       deps.Models,
		health:       deps.Health,
		secrets:      deps.Secrets,
	}
}

// ChatCompletion handles POST /v1/chat/completions
//
// @Summary      Create a chat completion
// @Description  Routes the request to a model, serves repeated non-streaming requests from the response cache and proxies SSE when stream is true.
// @Tags         chat
// @Accept       json
// @Produce      json,text/event-stream
// @Security     BearerAuth
// @Param        request  body      core.ChatRequest  true  "Chat completion request"
// @Success      200      {object}  object            "OpenAI chat completion, or an SSE stream"
// @Header       200      {string}  X-Cache           "hit, miss or bypass"
// @Header       200      {string}  X-Model           "Resolved model id"
// @Header       200      {string}  X-Prompt-Warning  "Set when the prompt exceeds every context window"
// @Failure      400      {object}  core.GatewayError
// @Failure      401      {object}  core.GatewayError
// @Failure      404      {object}  core.GatewayError
// @Failure      503      {object}  core.GatewayError
// @Router       /v1/chat/completions [post]
func (h *Handler) ChatCompletion(c echo.Context) error {
	var req core.ChatRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+bindMessage(err), err))
	}

	res, err := h.orchestrator.Handle(c.Request().Context(), &req)
	setResultHeaders(c, res)
	if err != nil {
		return handleError(c, err)
	}

	// Handle streaming: proxy the raw SSE stream
	if res.Stream != nil {
		defer func() {
			_ = res.Stream.Close() //nolint:errcheck
		}()

		header := c.Response().Header()
		header.Set(echo.HeaderContentType, "text/event-stream")
		header.Set(echo.HeaderCacheControl, "no-cache")
		header.Set(echo.HeaderConnection, "keep-alive")
		c.Response().WriteHeader(http.StatusOK)

		if err := copyStream(c.Response(), res.Stream); err != nil {
			// Headers are sent; the client sees a truncated stream.
			slog.Warn("stream copy interrupted", "request_id", res.RequestID, "model", res.Model, "error", err)
		}
		return nil
	}

	c.Response().Header().Set("ETag", fmt.Sprintf(`"%016x"`, xxhash.Sum64(res.Body)))
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, res.Body)
}

func setResultHeaders(c echo.Context, res *orchestrator.Result) {
	if res == nil {
		return
	}
	header := c.Response().Header()
	if res.RequestID != "" {
		header.Set(echo.HeaderXRequestID, res.RequestID)
	}
	if res.CacheStatus != "" {
		header.Set(HeaderCache, string(res.CacheStatus))
	}
	if res.Model != "" {
		header.Set(HeaderModel, res.Model)
	}
	header.Set(HeaderDuration, strconv.FormatInt(res.Duration.Milliseconds(), 10))
	if res.Warning != nil {
		header.Set(HeaderPromptWarning, res.Warning.String())
	}
}

// copyStream forwards SSE bytes, flushing after every read.
func copyStream(w *echo.Response, stream io.Reader) error {
	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			w.Flush()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// ListModels handles GET /v1/models
//
// @Summary      List the model catalog
// @Tags         models
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  core.ModelsResponse
// @Failure      401  {object}  core.GatewayError
// @Router       /v1/models [get]
func (h *Handler) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, core.NewModelsResponse(h.models.Models()))
}

// Liveness handles GET /health/live
//
// @Summary      Liveness check
// @Tags         health
// @Produce      json
// @Success      200  {object}  health.Report
// @Router       /health/live [get]
func (h *Handler) Liveness(c echo.Context) error {
	return writeReport(c, health.KindLive, h.health.Liveness())
}

// Readiness handles GET /health/ready
//
// @Summary      Readiness check
// @Description  Pings the secret store, cache store and inference backend. Only critical failures return 503.
// @Tags         health
// @Produce      json
// @Success      200  {object}  health.Report
// @Failure      503  {object}  health.Report
// @Router       /health/ready [get]
func (h *Handler) Readiness(c echo.Context) error {
	return writeReport(c, health.KindReady, h.health.Readiness(c.Request().Context()))
}

// Startup handles GET /health/startup
//
// @Summary      Startup check
// @Tags         health
// @Produce      json
// @Success      200  {object}  health.Report
// @Failure      503  {object}  health.Report
// @Router       /health/startup [get]
func (h *Handler) Startup(c echo.Context) error {
	return writeReport(c, health.KindStartup, h.health.Startup(c.Request().Context()))
}

// UnknownHealthCheck handles GET /health/:check for unsupported check types
func (h *Handler) UnknownHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error": "Unknown check type: " + c.Param("check"),
	})
}

func writeReport(c echo.Context, kind string, report health.Report) error {
	header := c.Response().Header()
	header.Set(echo.HeaderCacheControl, "no-cache, no-store, must-revalidate")
	header.Set(HeaderHealthCheck, kind)
	return c.JSON(report.HTTPStatus(), report)
}

// InvalidateSecret handles DELETE /admin/cache/secrets/:name
//
// @Summary      Drop a cached secret
// @Tags         admin
// @Security     BearerAuth
// @Param        name  path  string  true  "Secret name"
// @Success      204
// @Failure      401  {object}  core.GatewayError
// @Failure      404  {object}  core.GatewayError
// @Router       /admin/cache/secrets/{name} [delete]
func (h *Handler) InvalidateSecret(c echo.Context) error {
	if h.secrets == nil {
		return handleError(c, core.NewInvalidRequestErrorWithStatus(http.StatusNotFound, "secret store is not configured", nil))
	}
	name := c.Param("name")
	h.secrets.Invalidate(name)
	slog.Info("secret invalidated", "name", name, "request_id", core.GetRequestID(c.Request().Context()))
	return c.NoContent(http.StatusNoContent)
}

// bindMessage extracts the client-facing part of a bind error.
func bindMessage(err error) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			return msg
		}
	}
	return err.Error()
}

// handleError converts gateway errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	requestID := core.GetRequestID(c.Request().Context())

	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		body := gatewayErr.ToJSON()
		body["request_id"] = requestID
		return c.JSON(gatewayErr.HTTPStatusCode(), body)
	}

	slog.Error("unexpected error", "request_id", requestID, "error", err)

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    core.ErrorTypeInternal,
			"message": "an unexpected error occurred",
		},
		"request_id": requestID,
	})
}
