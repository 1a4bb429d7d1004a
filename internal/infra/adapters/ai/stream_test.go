//go:build !integration

package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

var nopLog = zerolog.Nop()

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, s adapter.ChunkStream) ([]model.StreamChunk, error) {
	t.Helper()
	defer s.Close()
	var out []model.StreamChunk
	for s.Next(context.Background()) {
		out = append(out, s.Chunk())
	}
	return out, s.Err()
}

func userMsg(text string) []adapter.Message {
	return []adapter.Message{{Role: "user", Content: text}}
}

func TestCompatStream_ChunksAndUsage(t *testing.T) {
	srv := sseServer(t,
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		`data: {"choices":[{"delta":{"content":" world"}}]}`,
		`data: {"choices":[{"delta":{"content":"!"}}]}`,
		`data: {"choices":[],"usage":{"prompt_tokens":4,"completion_tokens":6,"total_tokens":10}}`,
		`data: [DONE]`,
	)
	a, err := NewCompatAdapter(CompatConfig{Name: "openai", APIKey: "k", BaseURL: srv.URL}, &nopLog)
	if err != nil {
		t.Fatal(err)
	}
	s, err := a.Stream(context.Background(), userMsg("hi"), adapter.GenerateOptions{Model: "gpt-3.5-turbo"})
	if err != nil {
		t.Fatal(err)
	}
	chunks, err := collect(t, s)
	if err != nil {
		t.Fatalf("stream err: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("want 4 chunks, got %d: %+v", len(chunks), chunks)
	}
	var text string
	for _, c := range chunks[:3] {
		if c.IsComplete {
			t.Fatalf("early completion chunk %+v", c)
		}
		text += c.Content
	}
	if text != "Hello world!" {
		t.Fatalf("got %q", text)
	}
	last := chunks[3]
	if !last.IsComplete || last.Content != "" || last.Usage == nil || last.Usage.TotalTokens != 10 {
		t.Fatalf("bad terminal chunk %+v", last)
	}
}

func TestCompatStream_SkipsMalformedLine(t *testing.T) {
	srv := sseServer(t,
		`data: {"choices":[{"delta":{"content":"a"}}]}`,
		`data: {not json`,
		`data: {"choices":[{"delta":{"content":"b"}}]}`,
		`data: [DONE]`,
	)
	a, _ := NewCompatAdapter(CompatConfig{Name: "openai", APIKey: "k", BaseURL: srv.URL}, &nopLog)
	s, err := a.Stream(context.Background(), userMsg("hi"), adapter.GenerateOptions{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	c, err := adapter.Drain(context.Background(), s, nil)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if c.Content != "ab" {
		t.Fatalf("got %q", c.Content)
	}
}

func TestCompatStream_TruncatedIsRetryable(t *testing.T) {
	srv := sseServer(t, `data: {"choices":[{"delta":{"content":"a"}}]}`)
	a, _ := NewCompatAdapter(CompatConfig{Name: "openai", APIKey: "k", BaseURL: srv.URL}, &nopLog)
	s, err := a.Stream(context.Background(), userMsg("hi"), adapter.GenerateOptions{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = adapter.Drain(context.Background(), s, nil)
	if !domain.IsRetryable(err) {
		t.Fatalf("want retryable error, got %v", err)
	}
}

func TestCompatAdapter_AzureEndpointAndStatus(t *testing.T) {
	var path, key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path + "?" + r.URL.RawQuery
		key = r.Header.Get("api-key")
		http.Error(w, `{"error":"slow down"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a, _ := NewCompatAdapter(CompatConfig{Name: "azure", APIKey: "secret", BaseURL: srv.URL, APIVersion: "2024-02-01"}, &nopLog)
	_, err := a.Complete(context.Background(), userMsg("hi"), adapter.GenerateOptions{Model: "gpt-35"})
	var pErr *domain.ProviderError
	if !errors.As(err, &pErr) || pErr.StatusCode != 429 || !pErr.Retryable {
		t.Fatalf("want retryable 429 provider error, got %v", err)
	}
	if path != "/openai/deployments/gpt-35/chat/completions?api-version=2024-02-01" {
		t.Fatalf("path %s", path)
	}
	if key != "secret" {
		t.Fatalf("api-key header %q", key)
	}
}

func TestCompatAdapter_ClientErrorNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()
	a, _ := NewCompatAdapter(CompatConfig{Name: "openai", APIKey: "k", BaseURL: srv.URL}, &nopLog)
	_, err := a.Complete(context.Background(), userMsg("hi"), adapter.GenerateOptions{Model: "m"})
	if err == nil || domain.IsRetryable(err) {
		t.Fatalf("want non-retryable error, got %v", err)
	}
}

func TestCompatAdapter_EmbedWithoutModel(t *testing.T) {
	a, _ := NewCompatAdapter(CompatConfig{Name: "openai", APIKey: "k", BaseURL: "http://unused"}, &nopLog)
	_, err := a.Embed(context.Background(), "x", "")
	var capErr *domain.CapabilityError
	if !errors.As(err, &capErr) {
		t.Fatalf("want capability error, got %v", err)
	}
}

func TestLocalStream_NDJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintln(w, `{"message":{"content":"Hel"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":"lo"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":""},"done":true,"prompt_eval_count":3,"eval_count":2}`)
	}))
	defer srv.Close()

	a, _ := NewLocalAdapter(srv.URL, "", time.Second, &nopLog)
	s, err := a.Stream(context.Background(), userMsg("hi"), adapter.GenerateOptions{Model: "llama2"})
	if err != nil {
		t.Fatal(err)
	}
	chunks, err := collect(t, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 || chunks[0].Content != "Hel" || chunks[1].Content != "lo" {
		t.Fatalf("chunks %+v", chunks)
	}
	last := chunks[2]
	if !last.IsComplete || last.Usage == nil || last.Usage.TotalTokens != 5 {
		t.Fatalf("terminal %+v", last)
	}
}

func TestLocalStream_EOFWithoutDoneCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"partial"},"done":false}`)
	}))
	defer srv.Close()
	a, _ := NewLocalAdapter(srv.URL, "", time.Second, &nopLog)
	s, _ := a.Stream(context.Background(), userMsg("hi"), adapter.GenerateOptions{Model: "llama2"})
	c, err := adapter.Drain(context.Background(), s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.Content != "partial" {
		t.Fatalf("got %q", c.Content)
	}
}

func TestAnthropicStream_TypedEvents(t *testing.T) {
	var version string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version = r.Header.Get("anthropic-version")
		lines := []string{
			"event: message_start",
			`data: {"type":"message_start","message":{"usage":{"input_tokens":7,"output_tokens":1}}}`,
			"event: ping",
			`data: {"type":"ping"}`,
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}`,
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":" there"}}`,
			`data: {"type":"message_delta","usage":{"output_tokens":3}}`,
			`data: {"type":"message_stop"}`,
		}
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n", l)
		}
	}))
	defer srv.Close()

	a, _ := NewAnthropicAdapter("k", srv.URL, time.Second, &nopLog)
	s, err := a.Stream(context.Background(), []adapter.Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: "hi"}}, adapter.GenerateOptions{Model: "claude-3-haiku"})
	if err != nil {
		t.Fatal(err)
	}
	c, err := adapter.Drain(context.Background(), s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.Content != "Hi there" {
		t.Fatalf("got %q", c.Content)
	}
	if c.Usage.PromptTokens != 7 || c.Usage.CompletionTokens != 3 || c.Usage.TotalTokens != 10 {
		t.Fatalf("usage %+v", c.Usage)
	}
	if version != anthropicVersion {
		t.Fatalf("version header %q", version)
	}
}

func TestAnthropicRequest_MovesSystemTurn(t *testing.T) {
	a, _ := NewAnthropicAdapter("k", "", time.Second, &nopLog)
	r := a.request([]adapter.Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}}, adapter.GenerateOptions{}, false)
	if r.System != "sys" || len(r.Messages) != 1 || r.MaxTokens != 1024 {
		t.Fatalf("request %+v", r)
	}
}

func TestAnthropicAdapter_NoEmbeddings(t *testing.T) {
	a, _ := NewAnthropicAdapter("k", "", time.Second, &nopLog)
	if a.Supports(adapter.CapabilityEmbedding) {
		t.Fatal("anthropic should not claim embeddings")
	}
	_, err := a.Embed(context.Background(), "x", "")
	var capErr *domain.CapabilityError
	if !errors.As(err, &capErr) {
		t.Fatalf("got %v", err)
	}
}

func TestEchoAdapter_StreamsWords(t *testing.T) {
	var got []string
	c, err := adapter.Generate(context.Background(), NewEchoAdapter(), userMsg("ping pong"), adapter.GenerateOptions{Stream: true}, func(ch model.StreamChunk) error {
		if ch.Content != "" {
			got = append(got, ch.Content)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.Content != "Echo: ping pong" || strings.Join(got, "") != c.Content || len(got) != 3 {
		t.Fatalf("content %q chunks %q", c.Content, got)
	}
	if c.Usage.TotalTokens == 0 {
		t.Fatal("usage not reported")
	}
}

func TestRegistry_Resolve(t *testing.T) {
	reg := NewRegistry("openai", map[string]string{"my-model": "local"}, NewEchoAdapter())
	cases := []struct{ provider, model, want string }{
		{"Anthropic", "x", "anthropic"},
		{"", "my-model", "local"},
		{"", "gemini-pro", "google"},
		{"", "claude-3-haiku", "anthropic"},
		{"", "gpt-4", "openai"},
		{"", "mystery", "openai"},
	}
	for _, c := range cases {
		if got := reg.ResolveProvider(c.provider, c.model); got != c.want {
			t.Errorf("ResolveProvider(%q,%q)=%q want %q", c.provider, c.model, got, c.want)
		}
	}
	if _, err := reg.Get("echo"); err != nil {
		t.Fatal(err)
	}
	_, err := reg.ForModel("nope", "m")
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) || domain.IsRetryable(err) {
		t.Fatalf("want configuration error, got %v", err)
	}
}

type slowProvider struct {
	EchoAdapter
	inflight, peak int32
}

func (s *slowProvider) Complete(ctx context.Context, m []adapter.Message, o adapter.GenerateOptions) (*adapter.Completion, error) {
	n := atomic.AddInt32(&s.inflight, 1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(&s.inflight, -1)
	return s.EchoAdapter.Complete(ctx, m, o)
}

func TestLimitedProvider_CapsConcurrency(t *testing.T) {
	inner := &slowProvider{}
	p := NewLimitedProvider(inner, 2)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			_, _ = p.Complete(context.Background(), userMsg("x"), adapter.GenerateOptions{})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	if peak := atomic.LoadInt32(&inner.peak); peak > 2 {
		t.Fatalf("peak concurrency %d > 2", peak)
	}
}

func TestLimitedProvider_StreamHoldsSlotUntilClose(t *testing.T) {
	p := NewLimitedProvider(NewEchoAdapter(), 1)
	s, err := p.Stream(context.Background(), userMsg("x"), adapter.GenerateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Complete(ctx, userMsg("x"), adapter.GenerateOptions{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want slot wait to time out, got %v", err)
	}
	_ = s.Close()
	if _, err := p.Complete(context.Background(), userMsg("x"), adapter.GenerateOptions{}); err != nil {
		t.Fatal(err)
	}
}
