package usage

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// MongoDBReader implements UsageReader for MongoDB.
type MongoDBReader struct {
	collection *mongo.Collection
}

// NewMongoDBReader creates a new MongoDB usage reader.
func NewMongoDBReader(database *mongo.Database) (*MongoDBReader, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &MongoDBReader{collection: database.Collection(tableName)}, nil
}

// mongoMatch returns the $match stage for params, or nil when it selects
// everything.
func mongoMatch(params UsageQueryParams) bson.D {
	filter := bson.D{}
	ts := bson.D{}
	if !params.StartDate.IsZero() {
		ts = append(ts, bson.E{Key: "$gte", Value: params.StartDate.UTC()})
	}
	if !params.EndDate.IsZero() {
		ts = append(ts, bson.E{Key: "$lt", Value: params.EndDate.UTC().AddDate(0, 0, 1)})
	}
	if len(ts) > 0 {
		filter = append(filter, bson.E{Key: "timestamp", Value: ts})
	}
	if params.Model != "" {
		filter = append(filter, bson.E{Key: "model", Value: params.Model})
	}
	if len(filter) == 0 {
		return nil
	}
	return bson.D{{Key: "$match", Value: filter}}
}

func countIf(cond bson.D) bson.D {
	return bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{cond, 1, 0}}}}}
}

func sumOf(field string) bson.D {
	return bson.D{{Key: "$sum", Value: "$" + field}}
}

// mongoGroup builds a $group stage keyed by id that accumulates Totals.
func mongoGroup(id any) bson.D {
	return bson.D{{Key: "$group", Value: bson.D{
		{Key: "_id", Value: id},
		{Key: "requests", Value: bson.D{{Key: "$sum", Value: 1}}},
		{Key: "cache_hits", Value: countIf(bson.D{{Key: "$eq", Value: bson.A{"$cache_status", "hit"}}})},
		{Key: "cache_misses", Value: countIf(bson.D{{Key: "$eq", Value: bson.A{"$cache_status", "miss"}}})},
		{Key: "cache_bypass", Value: countIf(bson.D{{Key: "$eq", Value: bson.A{"$cache_status", "bypass"}}})},
		{Key: "errors", Value: countIf(bson.D{{Key: "$gte", Value: bson.A{"$status_code", 400}}})},
		{Key: "prompt_tokens", Value: sumOf("prompt_tokens")},
		{Key: "completion_tokens", Value: sumOf("completion_tokens")},
		{Key: "total_tokens", Value: sumOf("total_tokens")},
		{Key: "estimated_cost", Value: sumOf("estimated_cost")},
	}}}
}

func mongoPipeline(params UsageQueryParams, stages ...bson.D) bson.A {
	pipeline := bson.A{}
	if match := mongoMatch(params); match != nil {
		pipeline = append(pipeline, match)
	}
	for _, s := range stages {
		pipeline = append(pipeline, s)
	}
	return pipeline
}

func (r *MongoDBReader) GetSummary(ctx context.Context, params UsageQueryParams) (*UsageSummary, error) {
	cursor, err := r.collection.Aggregate(ctx, mongoPipeline(params, mongoGroup(nil)))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage summary: %w", err)
	}
	defer cursor.Close(ctx)

	var totals Totals
	if cursor.Next(ctx) {
		if err := cursor.Decode(&totals); err != nil {
			return nil, fmt.Errorf("failed to decode usage summary: %w", err)
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage summary cursor: %w", err)
	}

	byModelCursor, err := r.collection.Aggregate(ctx, mongoPipeline(params,
		mongoGroup(bson.D{{Key: "model", Value: "$model"}, {Key: "cache_status", Value: "$cache_status"}}),
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id.model", Value: 1}, {Key: "_id.cache_status", Value: 1}}}},
	))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage by model: %w", err)
	}
	defer byModelCursor.Close(ctx)

	var byModel []ModelUsage
	for byModelCursor.Next(ctx) {
		var row struct {
			ID struct {
				Model       string `bson:"model"`
				CacheStatus string `bson:"cache_status"`
			} `bson:"_id"`
			Totals `bson:",inline"`
		}
		if err := byModelCursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode usage by model row: %w", err)
		}
		byModel = append(byModel, ModelUsage{Model: row.ID.Model, CacheStatus: row.ID.CacheStatus, Totals: row.Totals})
	}
	if err := byModelCursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage by model cursor: %w", err)
	}

	return newSummary(totals, byModel), nil
}

// mongoPeriod renders the period label of an entry for interval.
func mongoPeriod(interval string) bson.D {
	var date any = "$timestamp"
	format := "%Y-%m-%d"
	switch interval {
	case IntervalWeekly:
		date = bson.D{{Key: "$dateTrunc", Value: bson.D{
			{Key: "date", Value: "$timestamp"},
			{Key: "unit", Value: "week"},
			{Key: "startOfWeek", Value: "monday"},
		}}}
	case IntervalMonthly:
		format = "%Y-%m"
	case IntervalYearly:
		format = "%Y"
	}
	return bson.D{{Key: "$dateToString", Value: bson.D{
		{Key: "format", Value: format},
		{Key: "date", Value: date},
	}}}
}

func (r *MongoDBReader) GetDailyUsage(ctx context.Context, params UsageQueryParams) ([]DailyUsage, error) {
	cursor, err := r.collection.Aggregate(ctx, mongoPipeline(params,
		mongoGroup(mongoPeriod(params.Interval)),
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily usage: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]DailyUsage, 0)
	for cursor.Next(ctx) {
		var row struct {
			Period string `bson:"_id"`
			Totals `bson:",inline"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode daily usage row: %w", err)
		}
		result = append(result, DailyUsage{Date: row.Period, Totals: row.Totals})
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily usage cursor: %w", err)
	}

	return result, nil
}
