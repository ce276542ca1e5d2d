// Package usage records one entry per handled chat request: which model
// served it, whether the cache answered, token counts and latency.
// Entries are buffered and written to the shared storage in batches.
package usage

import (
	"context"
	"time"
)

// UsageStore defines the interface for usage storage backends.
// Implementations must be safe for concurrent use.
type UsageStore interface {
	// WriteBatch writes multiple usage entries to storage.
	// This is called by the Logger when flushing buffered entries.
	WriteBatch(ctx context.Context, entries []*UsageEntry) error

	// Flush forces any pending writes to complete.
	// Called during graceful shutdown.
	Flush(ctx context.Context) error

	// Close releases resources and flushes pending writes.
	Close() error
}

// UsageEntry represents a single chat request record.
type UsageEntry struct {
	// ID is a unique identifier for this usage entry (UUID)
	ID string `json:"id" bson:"_id"`

	// RequestID is the gateway request id (X-Request-ID)
	RequestID string `json:"request_id" bson:"request_id"`

	// ResponseID is the completion id reported by the backend, if any
	ResponseID string `json:"response_id" bson:"response_id"`

	// Timestamp is when the request completed
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	RequestedModel string `json:"requested_model" bson:"requested_model"`
	Model          string `json:"model" bson:"model"`
	CacheStatus    string `json:"cache_status" bson:"cache_status"`
	Stream         bool   `json:"stream" bson:"stream"`

	// EstimatedPromptTokens is the router's estimate, available even when
	// the backend reports no usage
	EstimatedPromptTokens int `json:"estimated_prompt_tokens" bson:"estimated_prompt_tokens"`
	PromptTokens          int `json:"prompt_tokens" bson:"prompt_tokens"`
	CompletionTokens      int `json:"completion_tokens" bson:"completion_tokens"`
	TotalTokens           int `json:"total_tokens" bson:"total_tokens"`

	// EstimatedCost is TotalTokens priced at the model's catalog rate
	EstimatedCost float64 `json:"estimated_cost" bson:"estimated_cost"`

	DurationMs int64  `json:"duration_ms" bson:"duration_ms"`
	StatusCode int    `json:"status_code" bson:"status_code"`
	ErrorType  string `json:"error_type,omitempty" bson:"error_type,omitempty"`
}

// Config holds usage tracking configuration
type Config struct {
	// Enabled controls whether usage tracking is active
	Enabled bool

	// BufferSize is the number of usage entries to buffer before flushing
	BufferSize int

	// FlushInterval is how often to flush buffered entries
	FlushInterval time.Duration

	// RetentionDays is how long to keep usage data (0 = forever)
	RetentionDays int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 30,
	}
}
