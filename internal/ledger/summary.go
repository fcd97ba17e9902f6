package ledger

import (
	"fmt"
	"time"
)

// Period is a rollup window size.
type Period string

const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Duration returns the window length of the period.
func (p Period) Duration() (time.Duration, error) {
	switch p {
	case PeriodHour:
		return time.Hour, nil
	case PeriodDay:
		return 24 * time.Hour, nil
	case PeriodWeek:
		return 7 * 24 * time.Hour, nil
	case PeriodMonth:
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown period %q", p)
	}
}

// CostSummary is a rollup of usage over one window.
type CostSummary struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// TotalCost is the actual spend over the window.
	TotalCost float64 `json:"total_cost"`

	// TotalSaved is RoutingSavings plus CacheSavings.
	TotalSaved float64 `json:"total_saved"`

	// RoutingSavings is what routing to cheaper tiers saved versus sending
	// everything to the largest tier.
	RoutingSavings float64 `json:"routing_savings"`

	// CacheSavings is the estimated cost of the calls the cache absorbed.
	CacheSavings float64 `json:"cache_savings"`

	RequestCount int `json:"request_count"`
	CacheHits    int `json:"cache_hits"`

	// TierDistribution counts every record by tier; its values sum to
	// RequestCount.
	TierDistribution map[string]int `json:"tier_distribution"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Summary rolls up the window of the given period ending now, optionally
// restricted to one client.
func (l *Ledger) Summary(period Period, clientID string) (CostSummary, error) {
	dur, err := period.Duration()
	if err != nil {
		return CostSummary{}, err
	}
	end := time.Now()
	return l.SummaryRange(end.Add(-dur), end, clientID), nil
}

// SummaryRange rolls up records in [start, end).
func (l *Ledger) SummaryRange(start, end time.Time, clientID string) CostSummary {
	return Summarize(l.snapshot(start, end, clientID), l.calc, start, end)
}

// Summarize rolls up a record slice. A nil calculator skips the
// routing-savings comparison.
func Summarize(records []UsageRecord, calc *Calculator, start, end time.Time) CostSummary {
	summary := CostSummary{
		Start:            start,
		End:              end,
		TierDistribution: make(map[string]int),
	}

	var latencyTotal int64
	for _, rec := range records {
		summary.RequestCount++
		summary.TotalCost += rec.Cost
		latencyTotal += rec.LatencyMs

		tier := rec.Tier
		if tier == "" {
			tier = "unknown"
		}
		summary.TierDistribution[tier]++

		if rec.CacheHit {
			summary.CacheHits++
			summary.CacheSavings += rec.EstimatedCost
			continue
		}
		if rec.Cancelled {
			continue
		}
		if calc != nil {
			ifLarge := calc.LargestTierCost(rec.InputTokens, rec.OutputTokens)
			if diff := ifLarge - rec.Cost; diff > 0 {
				summary.RoutingSavings += diff
			}
		}
	}

	summary.TotalSaved = summary.RoutingSavings + summary.CacheSavings
	if summary.RequestCount > 0 {
		summary.AvgLatencyMs = float64(latencyTotal) / float64(summary.RequestCount)
	}
	return summary
}

// Trends returns the last n windows of the given period, oldest first.
func (l *Ledger) Trends(period Period, n int, clientID string) ([]CostSummary, error) {
	dur, err := period.Duration()
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("trend window count must be positive, got %d", n)
	}

	end := time.Now()
	out := make([]CostSummary, 0, n)
	for i := n; i > 0; i-- {
		winEnd := end.Add(-time.Duration(i-1) * dur)
		out = append(out, l.SummaryRange(winEnd.Add(-dur), winEnd, clientID))
	}
	return out, nil
}
