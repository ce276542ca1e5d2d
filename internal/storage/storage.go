// Package storage opens the database connections shared across features.
// The usage recorder and the SQL or MongoDB response cache stores reuse one
// connection when they are configured for the same engine.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Supported engines.
const (
	TypeSQLite     = "sqlite"
	TypePostgreSQL = "postgresql"
	TypeMongoDB    = "mongodb"
)

const (
	DefaultSQLitePath    = "data/infergate.db"
	DefaultMongoDatabase = "inferencecache"
	DefaultMaxConns      = 10
)

// Config selects and configures one engine.
type Config struct {
	Type       string
	SQLite     SQLiteConfig
	PostgreSQL PostgreSQLConfig
	MongoDB    MongoDBConfig
}

type SQLiteConfig struct {
	Path string
}

type PostgreSQLConfig struct {
	// URL is a libpq connection string or postgres:// URL.
	URL      string
	MaxConns int
}

type MongoDBConfig struct {
	URL      string
	Database string
}

// Storage is an open connection to one engine. Only the accessor matching
// Type returns a non-nil handle. Implementations are safe for concurrent use.
type Storage interface {
	Type() string
	SQLiteDB() *sql.DB
	PostgreSQLPool() *pgxpool.Pool
	MongoDatabase() *mongo.Database
	Ping(ctx context.Context) error
	Close() error
}

// New opens and pings the configured engine.
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Type {
	case TypeSQLite:
		return NewSQLite(cfg.SQLite)
	case TypePostgreSQL:
		return NewPostgreSQL(ctx, cfg.PostgreSQL)
	case TypeMongoDB:
		return NewMongoDB(ctx, cfg.MongoDB)
	default:
		return nil, fmt.Errorf("unknown storage type: %s (valid: sqlite, postgresql, mongodb)", cfg.Type)
	}
}

// conn holds whichever handle its engine uses.
type conn struct {
	kind  string
	db    *sql.DB
	pool  *pgxpool.Pool
	mongo *mongo.Client
	mdb   *mongo.Database
}

func (c *conn) Type() string                   { return c.kind }
func (c *conn) SQLiteDB() *sql.DB              { return c.db }
func (c *conn) PostgreSQLPool() *pgxpool.Pool  { return c.pool }
func (c *conn) MongoDatabase() *mongo.Database { return c.mdb }

func (c *conn) Ping(ctx context.Context) error {
	switch {
	case c.db != nil:
		return c.db.PingContext(ctx)
	case c.pool != nil:
		return c.pool.Ping(ctx)
	case c.mongo != nil:
		return c.mongo.Ping(ctx, nil)
	}
	return fmt.Errorf("%s storage is closed", c.kind)
}

func (c *conn) Close() error {
	switch {
	case c.db != nil:
		return c.db.Close()
	case c.pool != nil:
		c.pool.Close()
	case c.mongo != nil:
		return c.mongo.Disconnect(context.Background())
	}
	return nil
}
