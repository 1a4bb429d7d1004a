package repository

import (
	"context"
	"time"

	"chatbot-ai-pipeline/internal/domain/model"
)

// UsageWindowRepository stores the rolling rate-limit counters of a tenant.
// The counters are owned by the store; this subsystem reads them before a
// job and increments them after a successful attempt.
type UsageWindowRepository interface {
	// Window returns the counters of the window named by scope ("minute" or
	// "day"). A missing window is returned as nil without error.
	Window(ctx context.Context, tenantID, scope string) (*model.RateLimitWindow, error)
	// Add increments the counters, starting a fresh window of length size if
	// the stored one has expired.
	Add(ctx context.Context, tenantID, scope string, size time.Duration, requests, tokens, cost int64) error
}

const (
	WindowMinute = "minute"
	WindowDay    = "day"
)

// UsageSample is a single attempt folded into the usage metrics.
type UsageSample struct {
	TenantID     string
	Provider     string
	Model        string
	At           time.Time
	Success      bool
	InputTokens  int64
	OutputTokens int64
	Cost         int64 // micro-USD
	Latency      time.Duration
	CacheHit     bool
}

type UsageMetricsRepository interface {
	Record(ctx context.Context, tx Tx, s UsageSample) error
	List(ctx context.Context, tx Tx, tenantID string, from, to time.Time) ([]model.UsageMetrics, error)
}
