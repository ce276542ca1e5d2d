package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLReader implements UsageReader for PostgreSQL databases.
type PostgreSQLReader struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLReader creates a new PostgreSQL usage reader.
func NewPostgreSQLReader(pool *pgxpool.Pool) (*PostgreSQLReader, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return &PostgreSQLReader{pool: pool}, nil
}

func pgWhere(params UsageQueryParams) (string, []any) {
	conditions, args := rangeConditions(params,
		func(n int) string { return "$" + strconv.Itoa(n) },
		func(t time.Time) any { return t },
	)
	return buildWhereClause(conditions), args
}

func (r *PostgreSQLReader) GetSummary(ctx context.Context, params UsageQueryParams) (*UsageSummary, error) {
	where, args := pgWhere(params)

	var totals Totals
	err := r.pool.QueryRow(ctx,
		`SELECT `+aggregateColumns+` FROM `+tableName+where, args...,
	).Scan(totals.scanTargets()...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summary: %w", err)
	}

	rows, err := r.pool.Query(ctx,
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

func pgGroupExpr(interval string) string {
	switch interval {
	case IntervalWeekly:
		return `to_char(date_trunc('week', timestamp AT TIME ZONE 'UTC'), 'YYYY-MM-DD')`
	case IntervalMonthly:
		return `to_char(timestamp AT TIME ZONE 'UTC', 'YYYY-MM')`
	case IntervalYearly:
		return `to_char(timestamp AT TIME ZONE 'UTC', 'YYYY')`
	default:
		return `to_char(timestamp AT TIME ZONE 'UTC', 'YYYY-MM-DD')`
	}
}

func (r *PostgreSQLReader) GetDailyUsage(ctx context.Context, params UsageQueryParams) ([]DailyUsage, error) {
	groupExpr := pgGroupExpr(params.Interval)
	where, args := pgWhere(params)

	query := fmt.Sprintf(`SELECT %s AS period, %s FROM %s%s GROUP BY period ORDER BY period`,
		groupExpr, aggregateColumns, tableName, where)

	rows, err := r.pool.Query(ctx, query, args...)
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
