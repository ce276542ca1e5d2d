package usage

import (
	"fmt"
	"strings"
	"time"
)

// aggregateColumns computes Totals in scan order. SQLite and PostgreSQL
// share it; every SUM is coalesced so an empty range scans as zeros.
const aggregateColumns = `COUNT(*),
	COALESCE(SUM(CASE WHEN cache_status = 'hit' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN cache_status = 'miss' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN cache_status = 'bypass' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(prompt_tokens), 0),
	COALESCE(SUM(completion_tokens), 0),
	COALESCE(SUM(total_tokens), 0),
	COALESCE(SUM(estimated_cost), 0)`

func (t *Totals) scanTargets() []any {
	return []any{
		&t.Requests, &t.CacheHits, &t.CacheMisses, &t.CacheBypass, &t.Errors,
		&t.PromptTokens, &t.CompletionTokens, &t.TotalTokens, &t.EstimatedCost,
	}
}

// rangeConditions returns the SQL conditions selecting params. bind renders
// the placeholder of the n-th argument and at converts a bound date.
func rangeConditions(params UsageQueryParams, bind func(n int) string, at func(time.Time) any) ([]string, []any) {
	var conditions []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, bind(len(args))))
	}

	if !params.StartDate.IsZero() {
		add("timestamp >= %s", at(params.StartDate.UTC()))
	}
	if !params.EndDate.IsZero() {
		add("timestamp < %s", at(params.EndDate.UTC().AddDate(0, 0, 1)))
	}
	if params.Model != "" {
		add("model = %s", params.Model)
	}
	return conditions, args
}

// buildWhereClause joins condition strings into a SQL WHERE clause.
// Returns an empty string when conditions is empty.
func buildWhereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}
