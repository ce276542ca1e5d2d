//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"infergate/internal/storage"
)

// Run with: go test -tags=integration ./internal/cache/...

func startRedis(ctx context.Context, t *testing.T) string {
	t.Helper()
	c, err := testcontainers.Run(ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp").WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	url, err := c.PortEndpoint(ctx, "6379/tcp", "redis")
	require.NoError(t, err)
	return url
}

func startPostgres(ctx context.Context, t *testing.T) storage.Storage {
	t.Helper()
	c, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("infergate_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	url, err := c.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	st, err := storage.New(ctx, storage.Config{Type: storage.TypePostgreSQL, PostgreSQL: storage.PostgreSQLConfig{URL: url}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func startMongo(ctx context.Context, t *testing.T) storage.Storage {
	t.Helper()
	c, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	url, err := c.ConnectionString(ctx)
	require.NoError(t, err)

	st, err := storage.New(ctx, storage.Config{Type: storage.TypeMongoDB, MongoDB: storage.MongoDBConfig{URL: url, Database: "infergate_test"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// exerciseStore checks the Store contract shared by every backend.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))

	got, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	c := New(store, Config{TTL: time.Minute, StoreTTL: time.Hour, Compression: true, CompressMinBytes: 32})
	body := []byte(`{"id":"chatcmpl-9","choices":[{"index":0,"message":{"role":"assistant","content":"4"}}]}`)

	c.Put(ctx, "fp-a", body, "phi-3-mini", 0)
	c.Put(ctx, "fp-a", body, "phi-3-mini", 0)

	lookup := c.Get(ctx, "fp-a")
	require.True(t, lookup.Hit)
	assert.Equal(t, body, lookup.Entry.Body)
	assert.Equal(t, "phi-3-mini", lookup.Entry.ModelID)

	require.NoError(t, store.Set(ctx, "stale", []byte("x"), Meta{ModelID: "phi-3-mini", TTL: time.Second}))
	time.Sleep(1500 * time.Millisecond)
	got, err = store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, got, "store must not return values past their storage lifetime")
}

func TestRedisStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := NewStore(StoreConfig{Type: TypeRedis, Redis: RedisConfig{URL: startRedis(ctx, t)}}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	exerciseStore(t, store)
}

func TestPostgreSQLStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := NewStore(StoreConfig{Type: TypePostgreSQL}, startPostgres(ctx, t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	exerciseStore(t, store)
}

func TestMongoDBStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := NewStore(StoreConfig{Type: TypeMongoDB}, startMongo(ctx, t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	exerciseStore(t, store)
}
