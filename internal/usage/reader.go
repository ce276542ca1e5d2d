package usage

import (
	"context"
	"time"
)

// Reporting intervals for UsageReader.GetDailyUsage.
const (
	IntervalDaily   = "daily"
	IntervalWeekly  = "weekly"
	IntervalMonthly = "monthly"
	IntervalYearly  = "yearly"
)

// ValidInterval reports whether s names a reporting interval.
func ValidInterval(s string) bool {
	switch s {
	case IntervalDaily, IntervalWeekly, IntervalMonthly, IntervalYearly:
		return true
	}
	return false
}

// UsageQueryParams selects the entries a report covers.
type UsageQueryParams struct {
	StartDate time.Time // Inclusive start (day precision)
	EndDate   time.Time // Inclusive end (day precision)
	Interval  string    // one of the Interval constants; empty means daily
	Model     string    // optional resolved model id filter
}

// Totals are the aggregates shared by every report row.
type Totals struct {
	Requests         int64   `json:"requests" bson:"requests"`
	CacheHits        int64   `json:"cache_hits" bson:"cache_hits"`
	CacheMisses      int64   `json:"cache_misses" bson:"cache_misses"`
	CacheBypass      int64   `json:"cache_bypass" bson:"cache_bypass"`
	Errors           int64   `json:"errors" bson:"errors"`
	PromptTokens     int64   `json:"prompt_tokens" bson:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens" bson:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens" bson:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost" bson:"estimated_cost"`
}

// HitRatio is hits over cacheable lookups; streamed requests are excluded.
func (t Totals) HitRatio() float64 {
	lookups := t.CacheHits + t.CacheMisses
	if lookups == 0 {
		return 0
	}
	return float64(t.CacheHits) / float64(lookups)
}

// ModelUsage aggregates one (model, cache status) pair.
type ModelUsage struct {
	Model       string `json:"model"`
	CacheStatus string `json:"cache_status"`
	Totals
}

// UsageSummary holds aggregated usage over a date range.
type UsageSummary struct {
	Totals
	CacheHitRatio float64      `json:"cache_hit_ratio"`
	ByModel       []ModelUsage `json:"by_model"`
}

func newSummary(totals Totals, byModel []ModelUsage) *UsageSummary {
	if byModel == nil {
		byModel = []ModelUsage{}
	}
	return &UsageSummary{Totals: totals, CacheHitRatio: totals.HitRatio(), ByModel: byModel}
}

// DailyUsage holds usage for one period. Date is YYYY-MM-DD for daily,
// the Monday of the week for weekly, YYYY-MM for monthly and YYYY for
// yearly intervals.
type DailyUsage struct {
	Date string `json:"date"`
	Totals
}

// UsageReader provides read access to recorded usage for the admin API.
type UsageReader interface {
	// GetSummary returns totals and the per model and cache status
	// breakdown. Zero dates leave that side of the range open.
	GetSummary(ctx context.Context, params UsageQueryParams) (*UsageSummary, error)

	// GetDailyUsage returns totals grouped by params.Interval, oldest first.
	GetDailyUsage(ctx context.Context, params UsageQueryParams) ([]DailyUsage, error)
}
