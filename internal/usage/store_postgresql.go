package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"infergate/internal/storage"
)

// PostgreSQLStore implements UsageStore for PostgreSQL databases.
type PostgreSQLStore struct {
	pool          *pgxpool.Pool
	retentionDays int
	reaper        *storage.Reaper
}

// NewPostgreSQLStore creates the usage table if needed and starts the
// retention cleanup loop when retentionDays is positive.
func NewPostgreSQLStore(pool *pgxpool.Pool, retentionDays int) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+tableName+` (
			id UUID PRIMARY KEY,
			request_id TEXT NOT NULL,
			response_id TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMPTZ NOT NULL,
			requested_model TEXT NOT NULL,
			model TEXT NOT NULL,
			cache_status TEXT NOT NULL,
			stream BOOLEAN NOT NULL DEFAULT FALSE,
			estimated_prompt_tokens INTEGER NOT NULL DEFAULT 0,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			estimated_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			status_code INTEGER NOT NULL DEFAULT 0,
			error_type TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_usage_records_timestamp ON " + tableName + "(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_usage_records_request_id ON " + tableName + "(request_id)",
		"CREATE INDEX IF NOT EXISTS idx_usage_records_model ON " + tableName + "(model)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &PostgreSQLStore{
		pool:          pool,
		retentionDays: retentionDays,
	}

	if retentionDays > 0 {
		store.reaper = storage.StartReaper(tableName, storage.DefaultReapInterval, store.deleteExpired)
	}

	return store, nil
}

// WriteBatch queues one insert per entry in a pgx.Batch and sends them in a
// single round trip.
func (s *PostgreSQLStore) WriteBatch(ctx context.Context, entries []*UsageEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO `+tableName+` (id, request_id, response_id, timestamp, requested_model, model,
				cache_status, stream, estimated_prompt_tokens, prompt_tokens, completion_tokens,
				total_tokens, estimated_cost, duration_ms, status_code, error_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			ON CONFLICT (id) DO NOTHING
		`, e.ID, e.RequestID, e.ResponseID, e.Timestamp, e.RequestedModel, e.Model,
			e.CacheStatus, e.Stream, e.EstimatedPromptTokens, e.PromptTokens, e.CompletionTokens,
			e.TotalTokens, e.EstimatedCost, e.DurationMs, e.StatusCode, e.ErrorType)
	}

	results := s.pool.SendBatch(ctx, batch)
	var failed int
	var firstErr error
	for _, e := range entries {
		if _, err := results.Exec(); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			slog.Warn("failed to insert usage entry", "error", err, "id", e.ID)
		}
	}
	if err := results.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	if firstErr != nil {
		return fmt.Errorf("failed to insert %d of %d usage entries: %w", failed, len(entries), firstErr)
	}
	return nil
}

// Flush is a no-op for PostgreSQL as writes are synchronous.
func (s *PostgreSQLStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the retention loop. The pool belongs to the storage layer.
func (s *PostgreSQLStore) Close() error {
	s.reaper.Stop()
	return nil
}

// deleteExpired removes records older than the retention period.
func (s *PostgreSQLStore) deleteExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	tag, err := s.pool.Exec(ctx, "DELETE FROM "+tableName+" WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
