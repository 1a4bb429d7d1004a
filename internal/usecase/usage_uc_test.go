//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/repository"
	"chatbot-ai-pipeline/internal/usecase"
)

func TestUsageUseCase_ReportIsRequestWeighted(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	repo := &memUsage{periods: []model.UsageMetrics{
		{TenantID: "t1", Provider: "openai", Model: "gpt-4", Period: day, Totals: model.UsageTotals{
			TotalRequests: 10, SuccessfulRequests: 9, FailedRequests: 1, TotalTokens: 1000, TotalCost: 300, AverageLatency: 100, CacheHitRate: 0.5,
		}},
		{TenantID: "t1", Provider: "openai", Model: "gpt-4", Period: day.Add(24 * time.Hour), Totals: model.UsageTotals{
			TotalRequests: 30, SuccessfulRequests: 30, TotalTokens: 3000, TotalCost: 900, AverageLatency: 200, CacheHitRate: 0.1,
		}},
		{TenantID: "t2", Period: day, Totals: model.UsageTotals{TotalRequests: 99, AverageLatency: 9999}},
	}}
	uc := usecase.NewUsageUseCase(repo, newTestLogger())

	r, err := uc.Report(context.Background(), "t1", day, day.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if len(r.Periods) != 2 {
		t.Fatalf("periods = %d, want 2", len(r.Periods))
	}
	if r.Total.AverageLatency != 175 {
		t.Fatalf("averageLatency = %v, want 175 (not the plain mean 150)", r.Total.AverageLatency)
	}
	if math.Abs(r.Total.CacheHitRate-0.2) > 1e-9 {
		t.Fatalf("cacheHitRate = %v, want 0.2", r.Total.CacheHitRate)
	}
	if r.Total.TotalRequests != 40 || r.Total.FailedRequests != 1 || r.Total.TotalTokens != 4000 || r.Total.TotalCost != 1200 {
		t.Fatalf("totals = %+v", r.Total)
	}
}

func TestUsageUseCase_Validation(t *testing.T) {
	uc := usecase.NewUsageUseCase(&memUsage{}, newTestLogger())
	ctx := context.Background()
	now := time.Now()

	if _, err := uc.Report(ctx, "", now, now); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("empty tenant: %v", err)
	}
	if _, err := uc.Report(ctx, "t1", now, now.Add(-time.Hour)); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("inverted range: %v", err)
	}
	if err := uc.Record(ctx, repository.UsageSample{}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("sample without tenant: %v", err)
	}
}

func TestUsageUseCase_RecordStampsTime(t *testing.T) {
	repo := &memUsage{}
	uc := usecase.NewUsageUseCase(repo, newTestLogger())
	if err := uc.Record(context.Background(), repository.UsageSample{TenantID: "t1", Success: true}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(repo.samples) != 1 || repo.samples[0].At.IsZero() {
		t.Fatalf("samples = %+v", repo.samples)
	}
}
