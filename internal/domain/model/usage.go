package model

import "time"

// Usage is the token accounting reported by a provider.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// RateLimitWindow holds a tenant's rolling counters. Counters only count
// while now <= ResetAt; an expired window reads as empty and is reset lazily
// on the next write.
type RateLimitWindow struct {
	Requests int64     `json:"requests"`
	Tokens   int64     `json:"tokens"`
	Cost     int64     `json:"cost"` // micro-USD
	ResetAt  time.Time `json:"resetAt"`
}

func (w *RateLimitWindow) Expired(now time.Time) bool {
	return w == nil || now.After(w.ResetAt)
}

// RateLimits are the ceilings configured for a tenant. Zero disables a check.
type RateLimits struct {
	RequestsPerMinute int64 `yaml:"requests_per_minute" json:"requestsPerMinute"`
	TokensPerMinute   int64 `yaml:"tokens_per_minute" json:"tokensPerMinute"`
	CostPerDay        int64 `yaml:"cost_per_day_micros" json:"costPerDay"` // micro-USD
}

type UsageTotals struct {
	TotalRequests      int64   `json:"totalRequests"`
	SuccessfulRequests int64   `json:"successfulRequests"`
	FailedRequests     int64   `json:"failedRequests"`
	TotalTokens        int64   `json:"totalTokens"`
	InputTokens        int64   `json:"inputTokens"`
	OutputTokens       int64   `json:"outputTokens"`
	TotalCost          int64   `json:"totalCost"`      // micro-USD
	AverageLatency     float64 `json:"averageLatency"` // milliseconds
	CacheHitRate       float64 `json:"cacheHitRate"`   // 0..1
}

// UsageMetrics aggregates one tenant/provider/model over a period bucket.
type UsageMetrics struct {
	TenantID string      `json:"tenantId"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Period   time.Time   `json:"period"`
	Totals   UsageTotals `json:"metrics"`
}

// Merge adds o into t. Averages are weighted by request count.
func (t UsageTotals) Merge(o UsageTotals) UsageTotals {
	n := t.TotalRequests + o.TotalRequests
	out := UsageTotals{
		TotalRequests:      n,
		SuccessfulRequests: t.SuccessfulRequests + o.SuccessfulRequests,
		FailedRequests:     t.FailedRequests + o.FailedRequests,
		TotalTokens:        t.TotalTokens + o.TotalTokens,
		InputTokens:        t.InputTokens + o.InputTokens,
		OutputTokens:       t.OutputTokens + o.OutputTokens,
		TotalCost:          t.TotalCost + o.TotalCost,
	}
	if n > 0 {
		out.AverageLatency = (t.AverageLatency*float64(t.TotalRequests) + o.AverageLatency*float64(o.TotalRequests)) / float64(n)
		out.CacheHitRate = (t.CacheHitRate*float64(t.TotalRequests) + o.CacheHitRate*float64(o.TotalRequests)) / float64(n)
	}
	return out
}

// AggregateUsage merges periods into one total.
func AggregateUsage(ms []UsageMetrics) UsageTotals {
	var out UsageTotals
	for _, m := range ms {
		out = out.Merge(m.Totals)
	}
	return out
}
