package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"infergate/internal/storage"
)

// SQLite has a default limit of 999 bindable parameters per query (SQLITE_MAX_VARIABLE_NUMBER).
const (
	maxSQLiteParams      = 999
	columnsPerUsageEntry = 17
	maxEntriesPerBatch   = maxSQLiteParams / columnsPerUsageEntry
)

const usageColumns = `id, request_id, response_id, timestamp, requested_model, model, cache_status,
	stream, estimated_prompt_tokens, prompt_tokens, completion_tokens, total_tokens,
	estimated_cost, duration_ms, status_code, error_type, created_at`

// SQLiteStore implements UsageStore for SQLite databases.
type SQLiteStore struct {
	db            *sql.DB
	retentionDays int
	reaper        *storage.Reaper
}

// NewSQLiteStore creates the usage table if needed and starts the retention
// cleanup loop when retentionDays is positive.
func NewSQLiteStore(db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ` + tableName + ` (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			response_id TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL,
			requested_model TEXT NOT NULL,
			model TEXT NOT NULL,
			cache_status TEXT NOT NULL,
			stream INTEGER NOT NULL DEFAULT 0,
			estimated_prompt_tokens INTEGER NOT NULL DEFAULT 0,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			estimated_cost REAL NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			status_code INTEGER NOT NULL DEFAULT 0,
			error_type TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
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
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &SQLiteStore{
		db:            db,
		retentionDays: retentionDays,
	}

	if retentionDays > 0 {
		store.reaper = storage.StartReaper(tableName, storage.DefaultReapInterval, store.deleteExpired)
	}

	return store, nil
}

// WriteBatch inserts entries in chunks that stay within SQLite's parameter limit.
func (s *SQLiteStore) WriteBatch(ctx context.Context, entries []*UsageEntry) error {
	if len(entries) == 0 {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i := 0; i < len(entries); i += maxEntriesPerBatch {
		end := min(i+maxEntriesPerBatch, len(entries))
		chunk := entries[i:end]

		placeholders := make([]string, len(chunk))
		values := make([]interface{}, 0, len(chunk)*columnsPerUsageEntry)

		for j, e := range chunk {
			placeholders[j] = "(" + strings.TrimSuffix(strings.Repeat("?, ", columnsPerUsageEntry), ", ") + ")"
			stream := 0
			if e.Stream {
				stream = 1
			}
			values = append(values,
				e.ID,
				e.RequestID,
				e.ResponseID,
				e.Timestamp.UTC().Format(time.RFC3339Nano),
				e.RequestedModel,
				e.Model,
				e.CacheStatus,
				stream,
				e.EstimatedPromptTokens,
				e.PromptTokens,
				e.CompletionTokens,
				e.TotalTokens,
				e.EstimatedCost,
				e.DurationMs,
				e.StatusCode,
				e.ErrorType,
				now,
			)
		}

		query := `INSERT OR IGNORE INTO ` + tableName + ` (` + usageColumns + `) VALUES ` +
			strings.Join(placeholders, ",")

		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert usage batch %d: %w", i/maxEntriesPerBatch, err)
		}
	}

	return nil
}

// Flush is a no-op for SQLite as writes are synchronous.
func (s *SQLiteStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the retention loop. The database belongs to the storage layer.
func (s *SQLiteStore) Close() error {
	s.reaper.Stop()
	return nil
}

// deleteExpired removes records older than the retention period.
func (s *SQLiteStore) deleteExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays).UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx, "DELETE FROM "+tableName+" WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
