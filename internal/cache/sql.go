package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"infergate/internal/storage"
)

const cacheTable = "response_cache"

// SQLiteStore implements Store for SQLite databases.
// Expiry is checked at read time; expired rows are reaped hourly.
type SQLiteStore struct {
	db     *sql.DB
	reaper *storage.Reaper
}

// NewSQLiteStore creates a SQLite-backed store, creating its table if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS response_cache (
			key TEXT PRIMARY KEY,
			model_id TEXT NOT NULL,
			value BLOB NOT NULL,
			reclaim_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create response_cache table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_response_cache_reclaim_at ON response_cache(reclaim_at)"); err != nil {
		slog.Warn("failed to create index", "error", err)
	}

	s := &SQLiteStore{db: db}
	s.reaper = storage.StartReaper(cacheTable, storage.DefaultReapInterval, s.reap)
	return s, nil
}

// Get retrieves an unexpired encoded entry.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM response_cache WHERE key = ? AND reclaim_at > ?",
		key, time.Now().UnixMilli(),
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache entry from sqlite: %w", err)
	}
	return value, nil
}

// Set upserts an encoded entry.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, meta Meta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO response_cache (key, model_id, value, reclaim_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET model_id = excluded.model_id, value = excluded.value, reclaim_at = excluded.reclaim_at`,
		key, meta.ModelID, value, time.Now().Add(meta.TTL).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to set cache entry in sqlite: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the reaper. The DB itself is managed by the storage layer.
// Safe to call multiple times.
func (s *SQLiteStore) Close() error {
	s.reaper.Stop()
	return nil
}

func (s *SQLiteStore) reap(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM response_cache WHERE reclaim_at <= ?", time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// PostgreSQLStore implements Store for PostgreSQL databases.
// Expiry is checked at read time; expired rows are reaped hourly.
type PostgreSQLStore struct {
	pool   *pgxpool.Pool
	reaper *storage.Reaper
}

// NewPostgreSQLStore creates a PostgreSQL-backed store, creating its table if needed.
func NewPostgreSQLStore(pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	ctx := context.Background()
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS response_cache (
			key TEXT PRIMARY KEY,
			model_id TEXT NOT NULL,
			value BYTEA NOT NULL,
			reclaim_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create response_cache table: %w", err)
	}
	if _, err := pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_response_cache_reclaim_at ON response_cache(reclaim_at)"); err != nil {
		slog.Warn("failed to create index", "error", err)
	}

	s := &PostgreSQLStore{pool: pool}
	s.reaper = storage.StartReaper(cacheTable, storage.DefaultReapInterval, s.reap)
	return s, nil
}

// Get retrieves an unexpired encoded entry.
func (s *PostgreSQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		"SELECT value FROM response_cache WHERE key = $1 AND reclaim_at > now()",
		key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache entry from postgresql: %w", err)
	}
	return value, nil
}

// Set upserts an encoded entry.
func (s *PostgreSQLStore) Set(ctx context.Context, key string, value []byte, meta Meta) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO response_cache (key, model_id, value, reclaim_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET model_id = EXCLUDED.model_id, value = EXCLUDED.value, reclaim_at = EXCLUDED.reclaim_at`,
		key, meta.ModelID, value, time.Now().Add(meta.TTL).UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set cache entry in postgresql: %w", err)
	}
	return nil
}

// Ping checks the pool.
func (s *PostgreSQLStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close stops the reaper. The pool is managed by the storage layer.
// Safe to call multiple times.
func (s *PostgreSQLStore) Close() error {
	s.reaper.Stop()
	return nil
}

func (s *PostgreSQLStore) reap(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM response_cache WHERE reclaim_at <= now()")
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
