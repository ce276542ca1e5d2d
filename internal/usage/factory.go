package usage

import (
	"fmt"

	"infergate/config"
	"infergate/internal/storage"
)

// New creates a Recorder from configuration on the shared storage
// connection, which the caller keeps ownership of.
// Disabled tracking returns a NoopRecorder and ignores store.
func New(cfg config.UsageConfig, store storage.Storage) (Recorder, error) {
	if !cfg.Enabled {
		return NoopRecorder{}, nil
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required when usage tracking is enabled")
	}

	usageStore, err := createUsageStore(store, cfg.RetentionDays)
	if err != nil {
		return nil, err
	}

	return NewLogger(usageStore, buildLoggerConfig(cfg)), nil
}

// createUsageStore creates the appropriate UsageStore for the given storage backend.
func createUsageStore(store storage.Storage, retentionDays int) (UsageStore, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(store.SQLiteDB(), retentionDays)

	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(store.PostgreSQLPool(), retentionDays)

	case storage.TypeMongoDB:
		return NewMongoDBStore(store.MongoDatabase(), retentionDays)

	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}

// buildLoggerConfig creates a usage.Config from config.UsageConfig.
func buildLoggerConfig(usageCfg config.UsageConfig) Config {
	cfg := DefaultConfig()
	cfg.Enabled = usageCfg.Enabled
	cfg.RetentionDays = usageCfg.RetentionDays
	if usageCfg.BufferSize > 0 {
		cfg.BufferSize = usageCfg.BufferSize
	}
	if usageCfg.FlushInterval > 0 {
		cfg.FlushInterval = usageCfg.FlushInterval
	}
	return cfg
}

// NewReader creates the UsageReader matching the shared storage backend.
func NewReader(store storage.Storage) (UsageReader, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required for usage reports")
	}
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteReader(store.SQLiteDB())

	case storage.TypePostgreSQL:
		return NewPostgreSQLReader(store.PostgreSQLPool())

	case storage.TypeMongoDB:
		return NewMongoDBReader(store.MongoDatabase())

	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}
