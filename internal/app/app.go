// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the infergate server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"infergate/config"
	"infergate/internal/admin"
	"infergate/internal/backend"
	"infergate/internal/cache"
	"infergate/internal/core"
	"infergate/internal/health"
	"infergate/internal/httpclient"
	"infergate/internal/observability"
	"infergate/internal/orchestrator"
	"infergate/internal/router"
	"infergate/internal/secrets"
	"infergate/internal/server"
	"infergate/internal/storage"
	"infergate/internal/tokens"
	"infergate/internal/usage"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config *config.Config

	// storages holds one shared connection per storage type in use
	storages map[string]storage.Storage
	secrets  *secrets.Resolver
	cache    *cache.ResponseCache
	router   *router.Router
	backend  *backend.Client
	usage    usage.Recorder
	health   *health.Checker
	server   *server.Server

	shutdownTracing func(context.Context) error

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig holds the loaded application configuration produced by config.Load.
	AppConfig *config.LoadResult

	// Version is reported by the health endpoints.
	Version string
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if cfg.AppConfig.Config == nil {
		return nil, fmt.Errorf("app config contains nil Config")
	}

	appCfg := cfg.AppConfig.Config
	app := &App{
		config:   appCfg,
		storages: make(map[string]storage.Storage),
	}

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Enabled:     appCfg.Tracing.Enabled,
		Exporter:    appCfg.Tracing.Exporter,
		ServiceName: appCfg.Tracing.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	app.shutdownTracing = shutdownTracing

	if err := app.init(ctx, cfg.Version); err != nil {
		if closeErr := app.closeResources(context.Background()); closeErr != nil {
			return nil, fmt.Errorf("%w (also: close error: %v)", err, closeErr)
		}
		return nil, err
	}

	app.logStartupInfo()
	return app, nil
}

func (a *App) init(ctx context.Context, version string) error {
	cfg := a.config

	// Secrets
	resolver, err := secrets.New(cfg.Secrets, cfg.Backend.APIKeySecret)
	if err != nil {
		return fmt.Errorf("failed to initialize secrets: %w", err)
	}
	a.secrets = resolver

	// Response cache
	var shared storage.Storage
	if cache.NeedsStorage(cfg.Cache.Type) {
		shared, err = a.openStorage(ctx, cfg.Cache.Type)
		if err != nil {
			return fmt.Errorf("failed to initialize cache storage: %w", err)
		}
	}
	store, err := cache.NewStore(cache.StoreConfig{
		Type:  cfg.Cache.Type,
		Redis: cache.RedisConfig{URL: cfg.Cache.Redis.URL, Key: cfg.Cache.Redis.Key},
	}, shared)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	a.cache = cache.New(store, cache.Config{
		TTL:              seconds(cfg.Cache.TTL),
		StoreTTL:         seconds(cfg.Cache.StoreTTL),
		Compression:      cfg.Cache.Compression,
		CompressMinBytes: cfg.Cache.CompressMinBytes,
		CollapseInflight: cfg.Cache.CollapseInflight,
		CollapseTimeout:  seconds(cfg.HTTP.Timeout),
	})

	// Model catalog
	models := ModelDescriptors(cfg.Models)
	a.router, err = router.New(models)
	if err != nil {
		return fmt.Errorf("failed to initialize model router: %w", err)
	}

	estimator, err := tokens.New(cfg.Orchestrator.TokenEstimator)
	if err != nil {
		return fmt.Errorf("failed to initialize token estimator: %w", err)
	}

	// Inference backend
	httpCfg := httpclient.DefaultConfig()
	httpCfg.ResponseHeaderTimeout = time.Duration(cfg.HTTP.ResponseHeaderTimeout) * time.Second
	a.backend = backend.New(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		HealthPath:     cfg.Backend.HealthPath,
		APIKeySecret:   cfg.Backend.APIKeySecret,
		RequestTimeout: time.Duration(cfg.HTTP.Timeout) * time.Second,
		MaxRetries:     cfg.Backend.MaxRetries,
		InitialBackoff: cfg.Backend.InitialBackoff,
		MaxBackoff:     cfg.Backend.MaxBackoff,
		BackoffFactor:  cfg.Backend.BackoffFactor,
		BackoffJitter:  cfg.Backend.BackoffJitter,
		CircuitBreaker: backend.CircuitBreakerConfig{
			FailureThreshold: cfg.Backend.CircuitBreaker.FailureThreshold,
			Timeout:          cfg.Backend.CircuitBreaker.Timeout,
		},
	}, models, a.secrets, httpclient.New(httpCfg))

	// Usage records
	var usageStore storage.Storage
	if cfg.Usage.Enabled {
		usageStore, err = a.openStorage(ctx, cfg.Storage.Type)
		if err != nil {
			return fmt.Errorf("failed to initialize usage storage: %w", err)
		}
	}
	a.usage, err = usage.New(cfg.Usage, usageStore)
	if err != nil {
		return fmt.Errorf("failed to initialize usage tracking: %w", err)
	}

	orch := orchestrator.New(orchestrator.Config{
		DefaultMaxTokens:   cfg.Orchestrator.DefaultMaxTokens,
		DefaultTemperature: cfg.Orchestrator.DefaultTemperature,
		DefaultTopP:        cfg.Orchestrator.DefaultTopP,
	}, a.router, estimator, a.cache, a.backend, a.usage)

	a.health = health.New(health.Config{
		ProbeTimeout:     cfg.Health.ProbeTimeout,
		MinProbeInterval: cfg.Health.MinProbeInterval,
		Version:          version,
	}, a.probes()...)

	serverCfg := &server.Config{
		MasterKey:       cfg.Server.MasterKey,
		MasterKeySecret: cfg.Server.MasterKeySecret,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		BodySizeLimit:   cfg.Server.BodySizeLimit,
		SwaggerEnabled:  cfg.Server.SwaggerEnabled,
	}

	if cfg.Server.AdminEndpointsEnabled {
		adminHandler, adminErr := initAdmin(usageStore)
		if adminErr != nil {
			slog.Warn("failed to initialize admin", "error", adminErr)
		} else {
			serverCfg.AdminHandler = adminHandler
			slog.Info("admin API enabled", "api", "/admin/api/v1")
		}
	} else {
		slog.Info("admin API disabled")
	}

	if cfg.Server.SwaggerEnabled {
		slog.Info("swagger UI enabled", "path", "/swagger/index.html")
	}

	a.server = server.New(server.Deps{
		Orchestrator: orch,
		Models:       a.router,
		Health:       a.health,
		Secrets:      a.secrets,
	}, serverCfg)
	return nil
}

// initAdmin creates the admin API handler. Without usage storage the
// reports are served empty.
func initAdmin(usageStore storage.Storage) (*admin.Handler, error) {
	var reader usage.UsageReader
	if usageStore != nil {
		r, err := usage.NewReader(usageStore)
		if err != nil {
			return nil, fmt.Errorf("failed to create usage reader: %w", err)
		}
		reader = r
	}
	return admin.NewHandler(reader), nil
}

// probes lists the readiness dependencies. Unconfigured ones are skipped.
func (a *App) probes() []health.Probe {
	probes := []health.Probe{
		{Name: health.CheckSecretStore, Critical: true, Pinger: a.secrets},
	}

	cacheProbe := health.Probe{Name: health.CheckCacheStore}
	if a.config.Cache.Type == cache.TypeDisabled {
		cacheProbe.Reason = "response cache disabled"
	} else {
		cacheProbe.Pinger = a.cache
	}
	probes = append(probes, cacheProbe)

	backendProbe := health.Probe{Name: health.CheckInferenceBackend}
	if a.config.Health.CheckBackend {
		backendProbe.Pinger = a.backend
	} else {
		backendProbe.Reason = "backend checks disabled"
	}
	return append(probes, backendProbe)
}

// openStorage returns the shared connection for kind, opening it on first use.
func (a *App) openStorage(ctx context.Context, kind string) (storage.Storage, error) {
	if s, ok := a.storages[kind]; ok {
		return s, nil
	}
	sc := a.config.Storage
	s, err := storage.New(ctx, storage.Config{
		Type:       kind,
		SQLite:     storage.SQLiteConfig{Path: sc.SQLite.Path},
		PostgreSQL: storage.PostgreSQLConfig{URL: sc.PostgreSQL.URL, MaxConns: sc.PostgreSQL.MaxConns},
		MongoDB:    storage.MongoDBConfig{URL: sc.MongoDB.URL, Database: sc.MongoDB.Database},
	})
	if err != nil {
		return nil, err
	}
	a.storages[kind] = s
	return s, nil
}

// ModelDescriptors converts catalog configuration to router entries.
func ModelDescriptors(models []config.ModelConfig) []core.ModelDescriptor {
	out := make([]core.ModelDescriptor, 0, len(models))
	for _, m := range models {
		out = append(out, core.ModelDescriptor{
			ID:               m.ID,
			ContextLength:    m.ContextLength,
			PricePer1KTokens: m.PricePer1KTokens,
			Priority:         m.Priority,
			OwnedBy:          m.OwnedBy,
			Created:          m.Created,
			BackendURL:       m.BackendURL,
		})
	}
	return out
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Handler returns the HTTP handler, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order.
// Order:
// 1. HTTP server shutdown, honoring the passed context timeout/cancellation.
// 2. Usage recorder close (flushes pending records).
// 3. Response cache store close.
// 4. Shared storage connections close.
// 5. Tracing provider shutdown (flushes pending spans).
//
// Shutdown is idempotent and safe for repeated calls; after the first call, subsequent calls are no-ops.
// It attempts every close step, aggregates failures, and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	// Stop accepting new requests first
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if err := a.closeResources(ctx); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// closeResources releases everything but the HTTP server. Components that
// were never created are skipped.
func (a *App) closeResources(ctx context.Context) error {
	var errs []error

	if a.usage != nil {
		if err := a.usage.Close(); err != nil {
			slog.Error("usage recorder close error", "error", err)
			errs = append(errs, fmt.Errorf("usage close: %w", err))
		}
	}

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Error("cache close error", "error", err)
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}

	for kind, s := range a.storages {
		if err := s.Close(); err != nil {
			slog.Error("storage close error", "type", kind, "error", err)
			errs = append(errs, fmt.Errorf("%s storage close: %w", kind, err))
		}
	}

	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	// Security warnings
	switch {
	case cfg.Server.MasterKeySecret != "":
		slog.Info("authentication enabled", "mode", "master_key_secret", "secret", cfg.Server.MasterKeySecret)
	case cfg.Server.MasterKey != "":
		slog.Info("authentication enabled", "mode", "master_key")
	default:
		slog.Warn("SECURITY WARNING: INFERGATE_MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set INFERGATE_MASTER_KEY or server.master_key_secret to secure this gateway")
	}

	slog.Info("model catalog loaded", "models", len(cfg.Models))
	slog.Info("inference backend configured",
		"base_url", cfg.Backend.BaseURL,
		"max_retries", cfg.Backend.MaxRetries,
		"breaker_threshold", cfg.Backend.CircuitBreaker.FailureThreshold,
	)
	slog.Info("response cache configured",
		"type", cfg.Cache.Type,
		"ttl_seconds", cfg.Cache.TTL,
		"store_ttl_seconds", cfg.Cache.StoreTTL,
		"compression", cfg.Cache.Compression,
		"collapse_inflight", cfg.Cache.CollapseInflight,
	)
	slog.Info("secret store configured", "type", a.secrets.Kind(), "env_fallback", cfg.Secrets.EnvFallback)

	// Metrics configuration
	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	// Usage tracking configuration
	if cfg.Usage.Enabled {
		slog.Info("usage tracking enabled",
			"storage", cfg.Storage.Type,
			"buffer_size", cfg.Usage.BufferSize,
			"flush_interval", cfg.Usage.FlushInterval,
			"retention_days", cfg.Usage.RetentionDays,
		)
	} else {
		slog.Info("usage tracking disabled")
	}
}
