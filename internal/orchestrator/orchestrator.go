// Package orchestrator handles chat completion requests end to end:
// validation, model routing, the response cache and the backend call.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"infergate/internal/cache"
	"infergate/internal/core"
	"infergate/internal/observability"
	"infergate/internal/router"
	"infergate/internal/tokens"
	"infergate/internal/usage"
)

// Cache is the subset of *cache.ResponseCache used by the orchestrator.
type Cache interface {
	Get(ctx context.Context, fingerprint string) cache.Lookup
	Put(ctx context.Context, fingerprint string, body []byte, modelID string, ttl time.Duration)
	Collapse(ctx context.Context, fingerprint string, fn func(context.Context) ([]byte, error)) ([]byte, bool, error)
}

// Config holds request defaults.
type Config struct {
	DefaultMaxTokens   int
	DefaultTemperature float64
	DefaultTopP        float64
	// CacheTTL is passed to Cache.Put; zero uses the cache's own default
	CacheTTL time.Duration
}

// DefaultConfig returns the documented request defaults.
func DefaultConfig() Config {
	return Config{
		DefaultMaxTokens:   256,
		DefaultTemperature: 1.0,
		DefaultTopP:        1.0,
	}
}

// Result is the outcome of a handled request. Exactly one of Body and
// Stream is set; the caller must close Stream.
type Result struct {
	RequestID       string
	RequestedModel  string
	Model           string
	CacheStatus     core.CacheStatus
	Body            []byte
	Stream          io.ReadCloser
	Duration        time.Duration
	EstimatedTokens int
	Warning         *router.PromptTooLongWarning
}

// Orchestrator is safe for concurrent use; requests share no mutable state
// beyond the cache and the backend client.
type Orchestrator struct {
	cfg       Config
	router    *router.Router
	estimator tokens.Estimator
	cache     Cache
	backend   core.InferenceBackend
	usage     usage.Recorder
	validate  *validator.Validate
	now       func() time.Time
}

// New creates an Orchestrator. recorder may be nil.
func New(cfg Config, rt *router.Router, estimator tokens.Estimator, c Cache, backend core.InferenceBackend, recorder usage.Recorder) *Orchestrator {
	defaults := DefaultConfig()
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = defaults.DefaultMaxTokens
	}
	if estimator == nil {
		estimator = tokens.CharEstimator{}
	}
	if recorder == nil {
		recorder = usage.NoopRecorder{}
	}
	return &Orchestrator{
		cfg:       cfg,
		router:    rt,
		estimator: estimator,
		cache:     c,
		backend:   backend,
		usage:     recorder,
		validate:  newValidator(),
		now:       time.Now,
	}
}

// Handle serves one chat completion request. The request id is taken from
// ctx (core.WithRequestID) or generated.
func (o *Orchestrator) Handle(ctx context.Context, req *core.ChatRequest) (*Result, error) {
	start := o.now()

	requestID := core.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = core.WithRequestID(ctx, requestID)
	}

	ctx, span := observability.StartSpan(ctx, "orchestrator.handle", attribute.String("request.id", requestID))

	record := &usage.UsageEntry{
		ID:        uuid.NewString(),
		RequestID: requestID,
	}

	result, err := o.handle(ctx, req, record, start)
	if result == nil {
		result = &Result{}
	}
	result.RequestID = requestID
	result.Duration = o.now().Sub(start)

	span.SetAttributes(
		attribute.String("model.requested", record.RequestedModel),
		attribute.String("model.resolved", result.Model),
		attribute.String("cache.status", string(result.CacheStatus)),
	)
	observability.EndSpan(span, err)

	// Successful streams are recorded when the stream is closed.
	if err != nil || result.Stream == nil {
		o.finishRecord(record, result, err)
	}

	return result, err
}

func (o *Orchestrator) handle(ctx context.Context, req *core.ChatRequest, record *usage.UsageEntry, start time.Time) (*Result, error) {
	if req == nil {
		return nil, core.NewInvalidRequestError("request body is required", nil)
	}
	record.RequestedModel = req.RequestedModel()
	record.Stream = req.Stream

	plan, err := o.Prepare(req)
	if err != nil {
		return nil, err
	}
	model := plan.Resolution.Model
	inference := plan.Request
	record.EstimatedPromptTokens = plan.EstimatedTokens
	record.Model = model.ID

	result := &Result{
		RequestedModel:  req.RequestedModel(),
		Model:           model.ID,
		EstimatedTokens: plan.EstimatedTokens,
		Warning:         plan.Resolution.Warning,
	}
	if w := plan.Resolution.Warning; w != nil {
		slog.Warn("prompt exceeds every context window",
			"request_id", core.GetRequestID(ctx),
			"model", w.Model,
			"context_length", w.ContextLength,
			"estimated_tokens", w.EstimatedTokens,
		)
	}

	if req.Stream {
		result.CacheStatus = core.CacheBypass
		record.CacheStatus = string(core.CacheBypass)
		stream, err := o.backend.Stream(ctx, inference)
		if err != nil {
			return result, o.backendFailure(ctx, model.ID, start, err)
		}
		observability.ChatRequests.WithLabelValues(model.ID, string(core.CacheBypass)).Inc()
		record.StatusCode = http.StatusOK
		result.Stream = usage.WrapStream(stream, o.usage, record, model.PricePer1KTokens, start)
		return result, nil
	}

	fingerprint := plan.Fingerprint()

	if lookup := o.cache.Get(ctx, fingerprint); lookup.Hit {
		result.CacheStatus = core.CacheHit
		record.CacheStatus = string(core.CacheHit)
		result.Body = lookup.Entry.Body
		// Hits are recorded with their token counts but cost nothing.
		usage.ExtractTokens(result.Body).Apply(record, 0)
		observability.ChatRequests.WithLabelValues(model.ID, string(core.CacheHit)).Inc()
		return result, nil
	}

	result.CacheStatus = core.CacheMiss
	record.CacheStatus = string(core.CacheMiss)

	// Only the execution that ran the backend stores the body. A response
	// that arrived after its context was cancelled is never cached.
	body, _, err := o.cache.Collapse(ctx, fingerprint, func(callCtx context.Context) ([]byte, error) {
		body, err := o.backend.Complete(callCtx, inference)
		if err == nil && callCtx.Err() == nil {
			o.cache.Put(callCtx, fingerprint, body, model.ID, o.cfg.CacheTTL)
		}
		return body, err
	})
	if err != nil {
		return result, o.backendFailure(ctx, model.ID, start, err)
	}

	result.Body = body
	usage.ExtractTokens(body).Apply(record, model.PricePer1KTokens)
	observability.ChatRequests.WithLabelValues(model.ID, string(core.CacheMiss)).Inc()
	return result, nil
}

// Plan is a validated, routed request with every default applied.
type Plan struct {
	Resolution      router.Resolution
	EstimatedTokens int
	Request         *core.InferenceRequest
}

// Fingerprint returns the cache key of the planned request.
func (p *Plan) Fingerprint() string {
	r := p.Request
	return cache.Fingerprint(r.Model, r.Messages, r.Temperature, r.TopP, r.MaxTokens)
}

// Prepare validates req and resolves its model without touching the cache
// or the backend.
func (o *Orchestrator) Prepare(req *core.ChatRequest) (*Plan, error) {
	if req == nil {
		return nil, core.NewInvalidRequestError("request body is required", nil)
	}
	if err := o.validate.Struct(req); err != nil {
		return nil, core.NewInvalidRequestError(validationMessage(err), err)
	}

	estimated := o.estimator.Estimate(req.Messages)
	resolution, err := o.router.Resolve(req.RequestedModel(), estimated)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Resolution:      resolution,
		EstimatedTokens: estimated,
		Request:         o.inferenceRequest(req, resolution.Model.ID),
	}, nil
}

// inferenceRequest fills every optional parameter with its default.
func (o *Orchestrator) inferenceRequest(req *core.ChatRequest, modelID string) *core.InferenceRequest {
	ir := &core.InferenceRequest{
		Model:       modelID,
		Messages:    req.Messages,
		MaxTokens:   o.cfg.DefaultMaxTokens,
		Temperature: o.cfg.DefaultTemperature,
		TopP:        o.cfg.DefaultTopP,
		Stream:      req.Stream,
	}
	if req.MaxTokens != nil {
		ir.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		ir.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		ir.TopP = *req.TopP
	}
	return ir
}

// backendFailure logs the full error and returns the client-facing one.
func (o *Orchestrator) backendFailure(ctx context.Context, modelID string, start time.Time, err error) error {
	attrs := []any{
		"request_id", core.GetRequestID(ctx),
		"model", modelID,
		"latency_ms", o.now().Sub(start).Milliseconds(),
		"error", err,
	}
	if ctx.Err() != nil {
		slog.Info("client went away before the backend answered", attrs...)
	} else {
		slog.Error("backend request failed", attrs...)
	}

	var gwErr *core.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return core.NewBackendUnavailableError(modelID, err)
}

func (o *Orchestrator) finishRecord(record *usage.UsageEntry, result *Result, err error) {
	record.Timestamp = o.now().UTC()
	record.DurationMs = result.Duration.Milliseconds()
	record.StatusCode = http.StatusOK
	if err != nil {
		record.StatusCode = http.StatusInternalServerError
		var gwErr *core.GatewayError
		if errors.As(err, &gwErr) {
			record.StatusCode = gwErr.HTTPStatusCode()
			record.ErrorType = string(gwErr.Type)
		}
	}
	o.usage.Record(record)
}
