package cache

import (
	"fmt"

	"infergate/internal/storage"
)

// Store types accepted by NewStore.
const (
	TypeMemory     = "memory"
	TypeRedis      = "redis"
	TypeMongoDB    = storage.TypeMongoDB
	TypeSQLite     = storage.TypeSQLite
	TypePostgreSQL = storage.TypePostgreSQL
	TypeDisabled   = "disabled"
)

// StoreConfig selects and configures the backing store.
type StoreConfig struct {
	Type            string
	Redis           RedisConfig
	MongoCollection string
}

// NeedsStorage reports whether the store type runs on the shared storage layer.
func NeedsStorage(storeType string) bool {
	switch storeType {
	case TypeMongoDB, TypeSQLite, TypePostgreSQL:
		return true
	default:
		return false
	}
}

// NewStore creates the backing store for cfg. Database-backed types require
// shared, whose type must match; the caller keeps ownership of it.
func NewStore(cfg StoreConfig, shared storage.Storage) (Store, error) {
	switch cfg.Type {
	case TypeMemory, "":
		return NewMemoryStore(), nil
	case TypeDisabled:
		return DisabledStore{}, nil
	case TypeRedis:
		return NewRedisStore(cfg.Redis)
	}

	if !NeedsStorage(cfg.Type) {
		return nil, fmt.Errorf("unknown cache type: %s (valid: memory, redis, mongodb, sqlite, postgresql, disabled)", cfg.Type)
	}
	if shared == nil {
		return nil, fmt.Errorf("%s cache requires a storage connection", cfg.Type)
	}
	if shared.Type() != cfg.Type {
		return nil, fmt.Errorf("%s cache cannot use %s storage", cfg.Type, shared.Type())
	}

	switch cfg.Type {
	case TypeSQLite:
		return NewSQLiteStore(shared.SQLiteDB())

	case TypePostgreSQL:
		return NewPostgreSQLStore(shared.PostgreSQLPool())

	default: // TypeMongoDB
		return NewMongoDBStore(shared.MongoDatabase(), cfg.MongoCollection)
	}
}
