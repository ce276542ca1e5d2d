package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// DefaultMongoCollection is the collection holding cached responses.
const DefaultMongoCollection = "responses"

// mongoEntry is the stored document. reclaim_at carries a TTL index so the
// server deletes documents once the storage lifetime has passed.
type mongoEntry struct {
	Key       string    `bson:"_id"`
	ModelID   string    `bson:"model_id"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
	ReclaimAt time.Time `bson:"reclaim_at"`
}

// MongoDBStore implements Store for MongoDB and Cosmos DB for MongoDB.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore creates a MongoDB-backed store in database.
// It creates the TTL and model indexes if they don't exist.
func NewMongoDBStore(database *mongo.Database, collection string) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	if collection == "" {
		collection = DefaultMongoCollection
	}

	coll := database.Collection(collection)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "reclaim_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
		{
			Keys: bson.D{{Key: "model_id", Value: 1}},
		},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		// Log warning but don't fail - indexes may already exist
		slog.Warn("failed to create some MongoDB indexes for response cache", "error", err)
	}

	return &MongoDBStore{collection: coll}, nil
}

// Get retrieves an encoded entry.
func (s *MongoDBStore) Get(ctx context.Context, key string) ([]byte, error) {
	var doc mongoEntry
	err := s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache entry from mongodb: %w", err)
	}
	// The TTL monitor runs periodically; a document may outlive reclaim_at briefly.
	if time.Now().After(doc.ReclaimAt) {
		return nil, nil
	}
	return doc.Value, nil
}

// Set upserts an encoded entry.
func (s *MongoDBStore) Set(ctx context.Context, key string, value []byte, meta Meta) error {
	now := time.Now().UTC()
	doc := mongoEntry{
		Key:       key,
		ModelID:   meta.ModelID,
		Value:     value,
		UpdatedAt: now,
		ReclaimAt: now.Add(meta.TTL),
	}
	_, err := s.collection.ReplaceOne(ctx, bson.D{{Key: "_id", Value: key}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to set cache entry in mongodb: %w", err)
	}
	return nil
}

// Ping checks the MongoDB connection.
func (s *MongoDBStore) Ping(ctx context.Context) error {
	return s.collection.Database().Client().Ping(ctx, readpref.Primary())
}

// Close is a no-op as the client is managed by the storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
