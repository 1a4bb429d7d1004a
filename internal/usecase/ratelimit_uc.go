package usecase

import (
	"context"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// CheckRateLimit evaluates a tenant window against its ceilings.
// An absent or expired window always passes. Checks run in a fixed order
// (requests, tokens, cost) and the first violation wins.
func CheckRateLimit(current *model.RateLimitWindow, limits model.RateLimits, now time.Time) error {
	if current.Expired(now) {
		return nil
	}
	wait := current.ResetAt.Sub(now)
	if limits.RequestsPerMinute > 0 && current.Requests >= limits.RequestsPerMinute {
		return &domain.RateLimitError{Kind: domain.RateLimitRequests, WaitTime: wait, Current: current.Requests, Limit: limits.RequestsPerMinute}
	}
	if limits.TokensPerMinute > 0 && current.Tokens >= limits.TokensPerMinute {
		return &domain.RateLimitError{Kind: domain.RateLimitTokens, WaitTime: wait, Current: current.Tokens, Limit: limits.TokensPerMinute}
	}
	if limits.CostPerDay > 0 && current.Cost >= limits.CostPerDay {
		return &domain.RateLimitError{Kind: domain.RateLimitCost, Current: current.Cost, Limit: limits.CostPerDay}
	}
	return nil
}

// RateLimitUseCase admits jobs against the tenant's minute and day windows
// and records usage after a successful attempt.
//
// Admit and Record are not atomic together. Concurrent jobs of one tenant may
// overshoot a ceiling by at most the number of jobs in flight.
type RateLimitUseCase interface {
	Admit(ctx context.Context, tenantID string, estimatedTokens int) error
	Record(ctx context.Context, tenantID string, tokens int, cost Micros) error
	Limits(tenantID string) model.RateLimits
}

var _ RateLimitUseCase = (*rateLimitUC)(nil)

type rateLimitUC struct {
	windows   repository.UsageWindowRepository
	defaults  model.RateLimits
	perTenant map[string]model.RateLimits
	now       func() time.Time
	log       *zerolog.Logger
}

func NewRateLimitUseCase(windows repository.UsageWindowRepository, defaults model.RateLimits, perTenant map[string]model.RateLimits, logger *zerolog.Logger) *rateLimitUC {
	l := logger.With().Str("component", "ratelimit").Logger()
	return &rateLimitUC{
		windows:   windows,
		defaults:  defaults,
		perTenant: perTenant,
		now:       time.Now,
		log:       &l,
	}
}

func (r *rateLimitUC) Limits(tenantID string) model.RateLimits {
	if l, ok := r.perTenant[tenantID]; ok {
		return l
	}
	return r.defaults
}

// Admit checks the minute window (requests, then tokens including the
// estimate for this job) before the day window (cost).
func (r *rateLimitUC) Admit(ctx context.Context, tenantID string, estimatedTokens int) error {
	limits := r.Limits(tenantID)
	now := r.now()

	minute, err := r.windows.Window(ctx, tenantID, repository.WindowMinute)
	if err != nil {
		return err
	}
	if minute != nil && !minute.Expired(now) {
		w := *minute
		if limits.TokensPerMinute > 0 && w.Tokens < limits.TokensPerMinute && w.Tokens+int64(estimatedTokens) > limits.TokensPerMinute {
			// the job itself would cross the ceiling
			w.Tokens = limits.TokensPerMinute
		}
		if err := CheckRateLimit(&w, model.RateLimits{RequestsPerMinute: limits.RequestsPerMinute, TokensPerMinute: limits.TokensPerMinute}, now); err != nil {
			return err
		}
	}

	day, err := r.windows.Window(ctx, tenantID, repository.WindowDay)
	if err != nil {
		return err
	}
	return CheckRateLimit(day, model.RateLimits{CostPerDay: limits.CostPerDay}, now)
}

func (r *rateLimitUC) Record(ctx context.Context, tenantID string, tokens int, cost Micros) error {
	if err := r.windows.Add(ctx, tenantID, repository.WindowMinute, time.Minute, 1, int64(tokens), 0); err != nil {
		return err
	}
	if err := r.windows.Add(ctx, tenantID, repository.WindowDay, 24*time.Hour, 0, 0, cost); err != nil {
		return err
	}
	r.log.Debug().Str("tenant_id", tenantID).Int("tokens", tokens).Int64("cost_micros", cost).Msg("usage recorded")
	return nil
}
