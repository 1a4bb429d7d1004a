package usecase

import (
	"context"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// UsageReport is the per-period breakdown of a tenant plus the merged total.
type UsageReport struct {
	TenantID string               `json:"tenantId"`
	From     time.Time            `json:"from"`
	To       time.Time            `json:"to"`
	Periods  []model.UsageMetrics `json:"periods"`
	Total    model.UsageTotals    `json:"total"`
}

type UsageUseCase interface {
	Record(ctx context.Context, s repository.UsageSample) error
	Report(ctx context.Context, tenantID string, from, to time.Time) (*UsageReport, error)
}

var _ UsageUseCase = (*usageUC)(nil)

type usageUC struct {
	repo repository.UsageMetricsRepository
	log  *zerolog.Logger
}

func NewUsageUseCase(repo repository.UsageMetricsRepository, logger *zerolog.Logger) *usageUC {
	return &usageUC{repo: repo, log: logger}
}

func (u *usageUC) Record(ctx context.Context, s repository.UsageSample) error {
	if s.TenantID == "" {
		return domain.ErrInvalidArgument
	}
	if s.At.IsZero() {
		s.At = time.Now().UTC()
	}
	return u.repo.Record(ctx, repository.NoTX, s)
}

// Report merges the stored periods with request-weighted averages.
func (u *usageUC) Report(ctx context.Context, tenantID string, from, to time.Time) (*UsageReport, error) {
	if tenantID == "" || (!to.IsZero() && to.Before(from)) {
		return nil, domain.ErrInvalidArgument
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	ms, err := u.repo.List(ctx, repository.NoTX, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	return &UsageReport{
		TenantID: tenantID,
		From:     from,
		To:       to,
		Periods:  ms,
		Total:    model.AggregateUsage(ms),
	}, nil
}
