package postgres

import (
	"context"
	"fmt"
	"time"

	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4/pgxpool"
)

var _ repository.UsageMetricsRepository = (*usageMetricsRepo)(nil)

// usageMetricsRepo folds samples into hourly rows of ai_usage_metrics.
// Sums are stored and averages derived on read, so concurrent upserts from
// several workers stay exact.
type usageMetricsRepo struct {
	pool *pgxpool.Pool
}

func NewUsageMetricsRepo(pool *pgxpool.Pool) *usageMetricsRepo {
	return &usageMetricsRepo{pool: pool}
}

func (r *usageMetricsRepo) Record(ctx context.Context, tx repository.Tx, s repository.UsageSample) error {
	const q = `
INSERT INTO ai_usage_metrics AS m
  (tenant_id, provider, model, period, total_requests, successful_requests, failed_requests,
   input_tokens, output_tokens, total_cost, latency_ms_sum, cache_hits)
VALUES ($1, $2, $3, $4, 1, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (tenant_id, provider, model, period) DO UPDATE SET
  total_requests      = m.total_requests + 1,
  successful_requests = m.successful_requests + EXCLUDED.successful_requests,
  failed_requests     = m.failed_requests + EXCLUDED.failed_requests,
  input_tokens        = m.input_tokens + EXCLUDED.input_tokens,
  output_tokens       = m.output_tokens + EXCLUDED.output_tokens,
  total_cost          = m.total_cost + EXCLUDED.total_cost,
  latency_ms_sum      = m.latency_ms_sum + EXCLUDED.latency_ms_sum,
  cache_hits          = m.cache_hits + EXCLUDED.cache_hits;`

	ok, failed, hit := int64(0), int64(1), int64(0)
	if s.Success {
		ok, failed = 1, 0
	}
	if s.CacheHit {
		hit = 1
	}
	_, err := execSQL(ctx, r.pool, tx, q,
		s.TenantID, s.Provider, s.Model, s.At.UTC().Truncate(time.Hour),
		ok, failed, s.InputTokens, s.OutputTokens, s.Cost, s.Latency.Milliseconds(), hit)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (r *usageMetricsRepo) List(ctx context.Context, tx repository.Tx, tenantID string, from, to time.Time) ([]model.UsageMetrics, error) {
	const q = `
SELECT tenant_id, provider, model, period, total_requests, successful_requests, failed_requests,
       input_tokens, output_tokens, total_cost, latency_ms_sum, cache_hits
  FROM ai_usage_metrics
 WHERE tenant_id = $1 AND period >= $2 AND period <= $3
 ORDER BY period, provider, model;`

	rows, err := queryRows(ctx, r.pool, tx, q, tenantID, from.UTC().Truncate(time.Hour), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var out []model.UsageMetrics
	for rows.Next() {
		var (
			m                     model.UsageMetrics
			latencySum, cacheHits int64
		)
		t := &m.Totals
		if err := rows.Scan(&m.TenantID, &m.Provider, &m.Model, &m.Period,
			&t.TotalRequests, &t.SuccessfulRequests, &t.FailedRequests,
			&t.InputTokens, &t.OutputTokens, &t.TotalCost, &latencySum, &cacheHits); err != nil {
			return nil, err
		}
		t.TotalTokens = t.InputTokens + t.OutputTokens
		if t.TotalRequests > 0 {
			t.AverageLatency = float64(latencySum) / float64(t.TotalRequests)
			t.CacheHitRate = float64(cacheHits) / float64(t.TotalRequests)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
