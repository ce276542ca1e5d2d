//go:build integration

package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"infergate/internal/storage"
)

// Run with: go test -tags=integration ./internal/usage/...

func TestPostgreSQLReader(t *testing.T) {
	ctx := context.Background()
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

	store, err := NewPostgreSQLStore(st.PostgreSQLPool(), 0)
	require.NoError(t, err)
	require.NoError(t, store.WriteBatch(ctx, reportFixture()))

	reader, err := NewReader(st)
	require.NoError(t, err)
	exerciseReader(t, reader)
}

func TestMongoDBReader(t *testing.T) {
	ctx := context.Background()
	c, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	url, err := c.ConnectionString(ctx)
	require.NoError(t, err)

	st, err := storage.New(ctx, storage.Config{Type: storage.TypeMongoDB, MongoDB: storage.MongoDBConfig{URL: url, Database: "infergate_test"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	store, err := NewMongoDBStore(st.MongoDatabase(), 0)
	require.NoError(t, err)
	require.NoError(t, store.WriteBatch(ctx, reportFixture()))

	reader, err := NewReader(st)
	require.NoError(t, err)
	exerciseReader(t, reader)
}
