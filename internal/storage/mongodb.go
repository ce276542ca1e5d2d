package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// NewMongoDB connects to MongoDB or Azure Cosmos DB for MongoDB.
func NewMongoDB(ctx context.Context, cfg MongoDBConfig) (Storage, error) {
	if cfg.URL == "" {
		return nil, errors.New("MongoDB URL is required")
	}
	name := cfg.Database
	if name == "" {
		name = DefaultMongoDatabase
	}

	opts := options.Client().ApplyURI(cfg.URL).SetAppName("infergate")
	if isCosmosDB(cfg.URL) {
		// Cosmos DB for MongoDB rejects retryable writes.
		opts.SetRetryWrites(false)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &conn{kind: TypeMongoDB, mongo: client, mdb: client.Database(name)}, nil
}

func isCosmosDB(url string) bool {
	return strings.Contains(strings.ToLower(url), ".cosmos.azure.com")
}
