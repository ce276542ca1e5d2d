package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infergate/internal/observability"
)

// failingStore returns errors for every operation.
type failingStore struct {
	getErr, setErr error
	sets           atomic.Int32
}

func (s *failingStore) Get(context.Context, string) ([]byte, error) { return nil, s.getErr }
func (s *failingStore) Set(context.Context, string, []byte, Meta) error {
	s.sets.Add(1)
	return s.setErr
}
func (s *failingStore) Ping(context.Context) error { return s.getErr }
func (s *failingStore) Close() error                { return nil }

// recordingStore wraps MemoryStore and remembers the last Meta.
type recordingStore struct {
	*MemoryStore
	mu   sync.Mutex
	meta Meta
}

func (s *recordingStore) Set(ctx context.Context, key string, value []byte, meta Meta) error {
	s.mu.Lock()
	s.meta = meta
	s.mu.Unlock()
	return s.MemoryStore.Set(ctx, key, value, meta)
}

func newTestCache(cfg Config) (*ResponseCache, *MemoryStore) {
	store := NewMemoryStore()
	return New(store, cfg), store
}

func TestResponseCache_PutThenGet(t *testing.T) {
	c, _ := newTestCache(Config{TTL: time.Minute})
	ctx := context.Background()
	body := []byte(`{"id":"chatcmpl-1","choices":[{"message":{"role":"assistant","content":"hi"}}]}`)

	lookup := c.Get(ctx, "fp-1")
	assert.False(t, lookup.Hit)
	assert.Nil(t, lookup.Entry)

	c.Put(ctx, "fp-1", body, "phi-3-mini", 0)

	lookup = c.Get(ctx, "fp-1")
	require.True(t, lookup.Hit)
	assert.Equal(t, body, lookup.Entry.Body)
	assert.Equal(t, "phi-3-mini", lookup.Entry.ModelID)
	assert.Equal(t, "fp-1", lookup.Entry.Fingerprint)
	assert.Equal(t, time.Minute, lookup.Entry.ExpiresAt.Sub(lookup.Entry.CreatedAt))
}

func TestResponseCache_ExpiredEntryIsMiss(t *testing.T) {
	c, _ := newTestCache(Config{TTL: time.Minute})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Put(ctx, "fp", []byte(`{}`), "phi-3-mini", 10*time.Second)

	now = now.Add(10 * time.Second)
	assert.True(t, c.Get(ctx, "fp").Hit, "entry is live up to and including expires_at")

	now = now.Add(time.Millisecond)
	assert.False(t, c.Get(ctx, "fp").Hit)
}

func TestResponseCache_LastWriterWins(t *testing.T) {
	c, _ := newTestCache(Config{})
	ctx := context.Background()

	c.Put(ctx, "fp", []byte(`{"v":1}`), "phi-3-mini", 0)
	c.Put(ctx, "fp", []byte(`{"v":2}`), "phi-3-mini", 0)

	lookup := c.Get(ctx, "fp")
	require.True(t, lookup.Hit)
	assert.JSONEq(t, `{"v":2}`, string(lookup.Entry.Body))
}

func TestResponseCache_FailsOpen(t *testing.T) {
	store := &failingStore{getErr: errors.New("connection reset"), setErr: errors.New("connection reset")}
	c := New(store, Config{})
	ctx := context.Background()

	assert.NotPanics(t, func() {
		c.Put(ctx, "fp", []byte(`{}`), "phi-3-mini", 0)
	})
	assert.Equal(t, int32(1), store.sets.Load())

	misses := testutil.ToFloat64(observability.CacheLookups.WithLabelValues("miss"))
	getErrors := testutil.ToFloat64(observability.CacheStoreErrors.WithLabelValues("get"))

	lookup := c.Get(ctx, "fp")
	assert.False(t, lookup.Hit)
	assert.InDelta(t, misses+1, testutil.ToFloat64(observability.CacheLookups.WithLabelValues("miss")), 0)
	assert.InDelta(t, getErrors+1, testutil.ToFloat64(observability.CacheStoreErrors.WithLabelValues("get")), 0)
	assert.Error(t, c.Ping(ctx))
}

func TestResponseCache_CorruptValueIsMiss(t *testing.T) {
	c, store := newTestCache(Config{})
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "fp", []byte("garbage"), Meta{TTL: time.Minute}))

	assert.False(t, c.Get(ctx, "fp").Hit)
}

func TestResponseCache_EffectiveTTL(t *testing.T) {
	c, _ := newTestCache(Config{TTL: time.Hour, StoreTTL: 30 * time.Minute})

	assert.Equal(t, 30*time.Minute, c.EffectiveTTL(0), "configured TTL is capped by the store TTL")
	assert.Equal(t, 10*time.Second, c.EffectiveTTL(10*time.Second))
	assert.Equal(t, 30*time.Minute, c.EffectiveTTL(2*time.Hour))
}

func TestResponseCache_PassesStoreTTLAndModel(t *testing.T) {
	store := &recordingStore{MemoryStore: NewMemoryStore()}
	c := New(store, Config{TTL: time.Minute, StoreTTL: time.Hour})

	c.Put(context.Background(), "fp", []byte(`{}`), "llama-3-70b", 0)

	assert.Equal(t, time.Hour, store.meta.TTL)
	assert.Equal(t, "llama-3-70b", store.meta.ModelID)
}

func TestResponseCache_CompressedRoundTrip(t *testing.T) {
	c, store := newTestCache(Config{Compression: true, CompressMinBytes: 64})
	ctx := context.Background()
	body := []byte(`{"content":"` + strings.Repeat("lorem ipsum ", 500) + `"}`)

	c.Put(ctx, "fp", body, "mixtral-8x7b", 0)

	raw, err := store.Get(ctx, "fp")
	require.NoError(t, err)
	assert.Equal(t, formatBrotli, raw[0])
	assert.Less(t, len(raw), len(body))

	lookup := c.Get(ctx, "fp")
	require.True(t, lookup.Hit)
	assert.Equal(t, body, lookup.Entry.Body)
}

func TestResponseCache_ConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Put(ctx, "shared", []byte(`{"writer":true}`), "phi-3-mini", 0)
			lookup := c.Get(ctx, "shared")
			if lookup.Hit {
				assert.JSONEq(t, `{"writer":true}`, string(lookup.Entry.Body))
			}
		}(i)
	}
	wg.Wait()
}

func TestResponseCache_Collapse(t *testing.T) {
	t.Run("disabled runs every call", func(t *testing.T) {
		c, _ := newTestCache(Config{})
		var calls atomic.Int32
		for i := 0; i < 3; i++ {
			body, shared, err := c.Collapse(context.Background(), "fp", func(context.Context) ([]byte, error) {
				calls.Add(1)
				return []byte("x"), nil
			})
			require.NoError(t, err)
			assert.False(t, shared)
			assert.Equal(t, []byte("x"), body)
		}
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("enabled shares one in-flight call", func(t *testing.T) {
		c, _ := newTestCache(Config{CollapseInflight: true})
		var calls atomic.Int32
		release := make(chan struct{})
		started := make(chan struct{})

		var wg sync.WaitGroup
		results := make([][]byte, 5)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				body, _, err := c.Collapse(context.Background(), "fp", func(context.Context) ([]byte, error) {
					if calls.Add(1) == 1 {
						close(started)
					}
					<-release
					return []byte("shared-body"), nil
				})
				assert.NoError(t, err)
				results[i] = body
			}(i)
		}

		<-started
		// Give the followers time to join the in-flight call.
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), calls.Load())
		for _, r := range results {
			assert.Equal(t, []byte("shared-body"), r)
		}
	})

	t.Run("shared call outlives a cancelled caller", func(t *testing.T) {
		c, _ := newTestCache(Config{CollapseInflight: true})
		release := make(chan struct{})
		started := make(chan struct{})
		fn := func(ctx context.Context) ([]byte, error) {
			close(started)
			select {
			case <-release:
				return []byte("shared-body"), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		leaderCtx, cancel := context.WithCancel(context.Background())
		leaderErr := make(chan error, 1)
		go func() {
			_, _, err := c.Collapse(leaderCtx, "fp", fn)
			leaderErr <- err
		}()
		<-started

		followerBody := make(chan []byte, 1)
		go func() {
			body, shared, err := c.Collapse(context.Background(), "fp", fn)
			assert.NoError(t, err)
			assert.True(t, shared)
			followerBody <- body
		}()
		time.Sleep(50 * time.Millisecond)

		cancel()
		assert.ErrorIs(t, <-leaderErr, context.Canceled)

		close(release)
		assert.Equal(t, []byte("shared-body"), <-followerBody)
	})

	t.Run("shared call is bounded", func(t *testing.T) {
		c, _ := newTestCache(Config{CollapseInflight: true, CollapseTimeout: 20 * time.Millisecond})
		_, _, err := c.Collapse(context.Background(), "fp", func(ctx context.Context) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("errors are returned", func(t *testing.T) {
		c, _ := newTestCache(Config{CollapseInflight: true})
		_, _, err := c.Collapse(context.Background(), "fp", func(context.Context) ([]byte, error) {
			return nil, errors.New("backend down")
		})
		assert.EqualError(t, err, "backend down")
	})
}

func TestDisabledStore(t *testing.T) {
	c := New(DisabledStore{}, Config{})
	ctx := context.Background()

	c.Put(ctx, "fp", []byte(`{}`), "phi-3-mini", 0)
	assert.False(t, c.Get(ctx, "fp").Hit)
	assert.NoError(t, c.Ping(ctx))
	assert.NoError(t, c.Close())
}
