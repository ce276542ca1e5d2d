package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// PartialWriteError reports an unordered insert where only some records
// were stored.
type PartialWriteError struct {
	Total  int
	Failed int
	Err    error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("stored %d of %d usage records: %v", e.Total-e.Failed, e.Total, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// MongoDBStore writes usage records to a MongoDB (or Cosmos DB for MongoDB)
// collection. Retention is a TTL index on timestamp, so no reaper runs.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore creates the collection indexes. Index errors are logged,
// not returned: an existing index with other options must not block startup.
func NewMongoDBStore(database *mongo.Database, retentionDays int) (*MongoDBStore, error) {
	if database == nil {
		return nil, errors.New("database is required")
	}
	collection := database.Collection(tableName)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := collection.Indexes().CreateMany(ctx, usageIndexes(retentionDays)); err != nil {
		slog.Warn("failed to create usage indexes", "collection", tableName, "error", err)
	}
	return &MongoDBStore{collection: collection}, nil
}

// usageIndexes covers lookups by request id and per-model reporting. The
// timestamp index doubles as the retention TTL; MongoDB rejects a second
// index on the same key.
func usageIndexes(retentionDays int) []mongo.IndexModel {
	timestamp := mongo.IndexModel{Keys: bson.D{{Key: "timestamp", Value: -1}}}
	if retentionDays > 0 {
		timestamp.Options = options.Index().SetExpireAfterSeconds(int32(retentionDays * 24 * 60 * 60))
	}
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "request_id", Value: 1}}},
		{Keys: bson.D{{Key: "model", Value: 1}, {Key: "cache_status", Value: 1}}},
		timestamp,
	}
}

// WriteBatch inserts entries unordered so one bad document does not stop
// the rest.
func (s *MongoDBStore) WriteBatch(ctx context.Context, entries []*UsageEntry) error {
	if len(entries) == 0 {
		return nil
	}

	docs := make([]any, len(entries))
	for i, e := range entries {
		docs[i] = e
	}

	_, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return nil
	}

	var bulkErr mongo.BulkWriteException
	if errors.As(err, &bulkErr) && len(bulkErr.WriteErrors) < len(entries) {
		return &PartialWriteError{Total: len(entries), Failed: len(bulkErr.WriteErrors), Err: err}
	}
	return fmt.Errorf("failed to insert usage records: %w", err)
}

// Flush is a no-op; inserts are synchronous.
func (s *MongoDBStore) Flush(context.Context) error { return nil }

// Close is a no-op; the client belongs to the storage layer.
func (s *MongoDBStore) Close() error { return nil }
