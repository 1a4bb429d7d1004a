//go:build !integration

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/repository"
	"chatbot-ai-pipeline/internal/infra/inmem"
	"chatbot-ai-pipeline/internal/usecase"

	"github.com/rs/zerolog"
)

type fixture struct {
	srv     *httptest.Server
	queue   *inmem.JobQueue
	archive *inmem.JobArchive
	usage   *inmem.UsageMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	f := &fixture{queue: inmem.NewJobQueue(), archive: inmem.NewJobArchive(), usage: inmem.NewUsageMetrics()}
	admin := NewAdminServer(f.queue, []string{repository.QueueChat, repository.QueueAnalytics}, f.archive,
		usecase.NewUsageUseCase(f.usage, &logger), "admin-key", &logger)
	f.srv = httptest.NewServer(admin.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) get(t *testing.T, path, key string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+path, nil)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestAdmin_HealthIsPublic(t *testing.T) {
	f := newFixture(t)
	if resp := f.get(t, "/health", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAdmin_RequiresBearerKey(t *testing.T) {
	f := newFixture(t)
	if resp := f.get(t, "/api/v1/queues", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", resp.StatusCode)
	}
	if resp := f.get(t, "/api/v1/queues", "wrong"); resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 with wrong key, got %d", resp.StatusCode)
	}
}

func TestAdmin_QueueStats(t *testing.T) {
	f := newFixture(t)
	job := model.NewAIJob("j1", "t1", "c1", 1, model.ChatResponsePayload{ChatbotID: "b1", Content: "hi"})
	if err := f.queue.Enqueue(context.Background(), repository.QueueChat, job, 0); err != nil {
		t.Fatal(err)
	}

	resp := f.get(t, "/api/v1/queues/chat", "admin-key")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var st queueStats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Name != "chat" || st.Waiting != 1 {
		t.Errorf("unexpected stats %+v", st)
	}

	if resp := f.get(t, "/api/v1/queues/bogus", "admin-key"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown queue, got %d", resp.StatusCode)
	}
}

func TestAdmin_UsageReportWeightsAverages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	// 100 requests at 150ms in one hour, 300 at 200ms in the previous one
	for i := 0; i < 100; i++ {
		_ = f.usage.Record(ctx, nil, repository.UsageSample{TenantID: "t1", Provider: "openai", Model: "gpt-4", At: now, Success: true, Latency: 150 * time.Millisecond})
	}
	for i := 0; i < 300; i++ {
		_ = f.usage.Record(ctx, nil, repository.UsageSample{TenantID: "t1", Provider: "openai", Model: "gpt-4", At: now.Add(-time.Hour), Success: true, Latency: 200 * time.Millisecond})
	}

	resp := f.get(t, "/api/v1/usage/t1", "admin-key")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var rep usecase.UsageReport
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatal(err)
	}
	if rep.Total.TotalRequests != 400 {
		t.Errorf("expected 400 requests, got %d", rep.Total.TotalRequests)
	}
	if rep.Total.AverageLatency != 187.5 {
		t.Errorf("expected weighted latency 187.5, got %v", rep.Total.AverageLatency)
	}

	if resp := f.get(t, "/api/v1/usage/t1?from=yesterday", "admin-key"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad from, got %d", resp.StatusCode)
	}
}

func TestAdmin_JobLookup(t *testing.T) {
	f := newFixture(t)
	job := model.NewAIJob("j1", "t1", "c1", 1, model.ChatResponsePayload{ChatbotID: "b1", Content: "hi"})
	_ = f.archive.Save(context.Background(), nil, job)

	if resp := f.get(t, "/api/v1/jobs/j1", "admin-key"); resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if resp := f.get(t, "/api/v1/jobs/missing", "admin-key"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	resp := f.get(t, "/api/v1/conversations/c1/jobs?limit=5", "admin-key")
	var jobs []json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&jobs)
	if len(jobs) != 1 {
		t.Errorf("expected 1 job, got %d", len(jobs))
	}
}
