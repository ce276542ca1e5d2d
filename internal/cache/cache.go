// Package cache provides the response cache for non-streaming completions.
// Entries are keyed by a request fingerprint and kept in a pluggable store:
// in-process memory, Redis, MongoDB (Cosmos DB), SQLite or PostgreSQL.
package cache

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"infergate/internal/core"
	"infergate/internal/observability"
)

// Store is the persistence layer behind ResponseCache.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the encoded value for key.
	// Returns nil, nil if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes the whole encoded value for key, replacing any previous one.
	Set(ctx context.Context, key string, value []byte, meta Meta) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// Meta is the per-write information a store may use for indexing and
// reclamation. TTL is the storage backstop, not the serving lifetime.
type Meta struct {
	ModelID string
	TTL     time.Duration
}

// Config holds ResponseCache settings.
type Config struct {
	// TTL is the default serving lifetime of an entry
	TTL time.Duration
	// StoreTTL is the lifetime handed to the store for reclamation
	StoreTTL time.Duration
	// Compression enables brotli for encoded entries of at least CompressMinBytes
	Compression      bool
	CompressMinBytes int
	// CollapseInflight lets concurrent misses for one fingerprint share a
	// single backend call
	CollapseInflight bool
	// CollapseTimeout bounds a shared backend call
	CollapseTimeout time.Duration
}

// Default lifetimes used when Config leaves them unset.
const (
	DefaultTTL             = time.Hour
	DefaultStoreTTL        = 24 * time.Hour
	DefaultCollapseTimeout = 2 * time.Minute
)

// Lookup is the result of ResponseCache.Get.
type Lookup struct {
	Hit   bool
	Entry *Entry
}

// ResponseCache stores completion bodies by fingerprint.
//
// It fails open: a store error on read is a miss and a store error on
// write is logged and dropped, so the cache never fails a request.
type ResponseCache struct {
	store  Store
	cfg    Config
	codec  codec
	flight singleflight.Group
	now    func() time.Time
}

// New creates a ResponseCache over store.
func New(store Store, cfg Config) *ResponseCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.StoreTTL <= 0 {
		cfg.StoreTTL = DefaultStoreTTL
	}
	if cfg.CollapseTimeout <= 0 {
		cfg.CollapseTimeout = DefaultCollapseTimeout
	}
	return &ResponseCache{
		store: store,
		cfg:   cfg,
		codec: codec{compress: cfg.Compression, minBytes: cfg.CompressMinBytes},
		now:   time.Now,
	}
}

// Get returns the live entry for fingerprint, if any.
func (c *ResponseCache) Get(ctx context.Context, fingerprint string) Lookup {
	ctx, span := observability.StartSpan(ctx, "cache.get", attribute.String("cache.fingerprint", fingerprint))
	defer span.End()

	data, err := c.store.Get(ctx, fingerprint)
	if err != nil {
		slog.Warn("cache read failed, treating as miss",
			"fingerprint", fingerprint, "request_id", core.GetRequestID(ctx), "error", err)
		observability.CacheStoreErrors.WithLabelValues("get").Inc()
		return c.miss(span)
	}
	if data == nil {
		return c.miss(span)
	}

	entry, err := c.codec.decode(data)
	if err != nil {
		slog.Warn("unreadable cache entry, treating as miss", "fingerprint", fingerprint, "error", err)
		observability.CacheStoreErrors.WithLabelValues("decode").Inc()
		return c.miss(span)
	}
	if entry.Expired(c.now()) {
		return c.miss(span)
	}

	observability.CacheLookups.WithLabelValues("hit").Inc()
	span.SetAttributes(attribute.String("cache.result", "hit"), attribute.String("cache.model", entry.ModelID))
	return Lookup{Hit: true, Entry: entry}
}

func (c *ResponseCache) miss(span trace.Span) Lookup {
	observability.CacheLookups.WithLabelValues("miss").Inc()
	span.SetAttributes(attribute.String("cache.result", "miss"))
	return Lookup{}
}

// Put stores body under fingerprint, overwriting any previous entry.
// ttl <= 0 uses the configured TTL; the serving lifetime never exceeds the
// store TTL. Failures are logged and otherwise ignored.
func (c *ResponseCache) Put(ctx context.Context, fingerprint string, body []byte, modelID string, ttl time.Duration) {
	ttl = c.EffectiveTTL(ttl)
	now := c.now()
	entry := &Entry{
		Fingerprint: fingerprint,
		Body:        body,
		ModelID:     modelID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	data, err := c.codec.encode(entry)
	if err != nil {
		slog.Warn("failed to encode cache entry", "fingerprint", fingerprint, "error", err)
		observability.CacheStoreErrors.WithLabelValues("encode").Inc()
		return
	}

	if err := c.store.Set(ctx, fingerprint, data, Meta{ModelID: modelID, TTL: c.cfg.StoreTTL}); err != nil {
		slog.Warn("cache write failed",
			"fingerprint", fingerprint, "model", modelID, "request_id", core.GetRequestID(ctx), "error", err)
		observability.CacheStoreErrors.WithLabelValues("set").Inc()
	}
}

// EffectiveTTL returns the serving lifetime used for a write with ttl.
func (c *ResponseCache) EffectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}
	if ttl > c.cfg.StoreTTL {
		ttl = c.cfg.StoreTTL
	}
	return ttl
}

// Collapse runs fn for fingerprint, sharing one execution among concurrent
// callers when in-flight collapsing is enabled. shared reports whether the
// result came from another caller's execution.
//
// A shared execution runs under ctx detached from cancellation and bounded
// by CollapseTimeout, so a caller that goes away does not fail the others.
// A caller whose own ctx ends stops waiting and gets ctx.Err().
func (c *ResponseCache) Collapse(ctx context.Context, fingerprint string, fn func(context.Context) ([]byte, error)) (body []byte, shared bool, err error) {
	if !c.cfg.CollapseInflight {
		body, err = fn(ctx)
		return body, false, err
	}
	ch := c.flight.DoChan(fingerprint, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CollapseTimeout)
		defer cancel()
		return fn(callCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.([]byte), res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Ping reports whether the backing store is reachable.
func (c *ResponseCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// Close releases the backing store.
func (c *ResponseCache) Close() error {
	return c.store.Close()
}
