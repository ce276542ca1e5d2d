// Package secrets resolves named credentials from a secret store with a
// bounded in-process cache.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"infergate/internal/observability"
)

var (
	// ErrSecretNotFound is returned when no store holds the secret.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrSecretStoreUnavailable is returned when the store cannot be reached.
	ErrSecretStoreUnavailable = errors.New("secret store unavailable")
)

const (
	// DefaultCacheTTL bounds how long a resolved value is served without
	// re-reading the store.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultFetchTimeout bounds one shared store read.
	DefaultFetchTimeout = 10 * time.Second
)

// Source reads secrets from one backing store.
// Implementations must be safe for concurrent use.
type Source interface {
	// Fetch returns the current value of name, or an error wrapping
	// ErrSecretNotFound or ErrSecretStoreUnavailable.
	Fetch(ctx context.Context, name string) (string, error)

	// Ping reports whether the store is reachable and readable.
	Ping(ctx context.Context) error

	// Kind names the store for logs and metrics.
	Kind() string
}

// Config holds Resolver settings.
type Config struct {
	CacheTTL time.Duration
	// FetchTimeout bounds a store read shared by concurrent callers
	FetchTimeout time.Duration
	// EnvFallback consults environment variables when the source reports
	// a secret as missing. Unavailability never falls back.
	EnvFallback bool
}

// Resolver resolves secrets through a TTL cache in front of a Source.
// It is safe for concurrent use.
type Resolver struct {
	source       Source
	envFallback  bool
	fetchTimeout time.Duration
	cache        *gocache.Cache
	flight       singleflight.Group
}

// NewResolver creates a Resolver over source.
func NewResolver(source Source, cfg Config) *Resolver {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	return &Resolver{
		source:       source,
		envFallback:  cfg.EnvFallback && source.Kind() != KindEnv,
		fetchTimeout: fetchTimeout,
		cache:        gocache.New(ttl, 2*ttl),
	}
}

// Get returns the value of the named secret.
func (r *Resolver) Get(ctx context.Context, name string) (string, error) {
	if v, ok := r.cache.Get(name); ok {
		observability.SecretLookups.WithLabelValues("cache", "hit").Inc()
		return v.(string), nil
	}

	// Concurrent misses for the same name share one store read, detached
	// from the caller that started it and bounded by fetchTimeout.
	ch := r.flight.DoChan(name, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
		defer cancel()
		return r.fetch(fetchCtx, name)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Resolver) fetch(ctx context.Context, name string) (string, error) {
	value, err := r.source.Fetch(ctx, name)
	if err == nil {
		observability.SecretLookups.WithLabelValues(r.source.Kind(), "found").Inc()
		r.cache.SetDefault(name, value)
		return value, nil
	}

	if errors.Is(err, ErrSecretNotFound) && r.envFallback {
		if v, ok := lookupEnv(name); ok {
			slog.Debug("secret resolved from environment fallback", "secret", name)
			observability.SecretLookups.WithLabelValues(KindEnv, "found").Inc()
			r.cache.SetDefault(name, v)
			return v, nil
		}
	}

	result := "error"
	if errors.Is(err, ErrSecretNotFound) {
		result = "not_found"
	}
	observability.SecretLookups.WithLabelValues(r.source.Kind(), result).Inc()
	return "", err
}

// Invalidate drops the cached value of name so the next Get re-reads the store.
func (r *Resolver) Invalidate(name string) {
	r.cache.Delete(name)
}

// InvalidateAll drops every cached value.
func (r *Resolver) InvalidateAll() {
	r.cache.Flush()
}

// Ping reports whether the underlying store is reachable.
func (r *Resolver) Ping(ctx context.Context) error {
	return r.source.Ping(ctx)
}

// Kind returns the kind of the underlying store.
func (r *Resolver) Kind() string {
	return r.source.Kind()
}

// EnvName maps a secret name to its environment variable:
// "internal-service-key" becomes "INTERNAL_SERVICE_KEY".
func EnvName(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// lookupEnv treats empty variables as unset.
func lookupEnv(name string) (string, bool) {
	v := os.Getenv(EnvName(name))
	return v, v != ""
}

func notFound(name string) error {
	return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

func unavailable(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSecretStoreUnavailable, name, err)
}
