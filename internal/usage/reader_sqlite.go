package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteReader implements UsageReader for SQLite databases.
type SQLiteReader struct {
	db *sql.DB
}

// NewSQLiteReader creates a new SQLite usage reader.
func NewSQLiteReader(db *sql.DB) (*SQLiteReader, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteReader{db: db}, nil
}

// Timestamps are stored as RFC 3339 text, so a bare date compares as the
// start of that day.
func sqliteWhere(params UsageQueryParams) (string, []any) {
	conditions, args := rangeConditions(params,
		func(int) string { return "?" },
		func(t time.Time) any { return t.Format("2006-01-02") },
	)
	return buildWhereClause(conditions), args
}

func (r *SQLiteReader) GetSummary(ctx context.Context, params UsageQueryParams) (*UsageSummary, error) {
	where, args := sqliteWhere(params)

	var totals Totals
	err := r.db.QueryRowContext(ctx,
		`SELECT `+aggregateColumns+` FROM `+tableName+where, args...,
	).Scan(totals.scanTargets()...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summary: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT model, cache_status, `+aggregateColumns+` FROM `+tableName+where+
			` GROUP BY model, cache_status ORDER BY model, cache_status`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage by model: %w", err)
	}
	defer rows.Close()

	var byModel []ModelUsage
	for rows.Next() {
		var m ModelUsage
		if err := rows.Scan(append([]any{&m.Model, &m.CacheStatus}, m.scanTargets()...)...); err != nil {
			return nil, fmt.Errorf("failed to scan usage by model row: %w", err)
		}
		byModel = append(byModel, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage by model rows: %w", err)
	}

	return newSummary(totals, byModel), nil
}

func sqliteGroupExpr(interval string) string {
	switch interval {
	case IntervalWeekly:
		// "weekday 0" moves to the next Sunday unless already there.
		return `date(timestamp, 'weekday 0', '-6 days')`
	case IntervalMonthly:
		return `strftime('%Y-%m', timestamp)`
	case IntervalYearly:
		return `strftime('%Y', timestamp)`
	default:
		return `date(timestamp)`
	}
}

func (r *SQLiteReader) GetDailyUsage(ctx context.Context, params UsageQueryParams) ([]DailyUsage, error) {
	groupExpr := sqliteGroupExpr(params.Interval)
	where, args := sqliteWhere(params)

	query := fmt.Sprintf(`SELECT %s AS period, %s FROM %s%s GROUP BY period ORDER BY period`,
		groupExpr, aggregateColumns, tableName, where)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	result := make([]DailyUsage, 0)
	for rows.Next() {
		var d DailyUsage
		if err := rows.Scan(append([]any{&d.Date}, d.scanTargets()...)...); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage row: %w", err)
		}
		result = append(result, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily usage rows: %w", err)
	}

	return result, nil
}
