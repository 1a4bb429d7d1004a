//go:build !integration

package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"
)

func newTestOpenAI(t *testing.T, url string) *OpenAIAdapter {
	t.Helper()
	a, err := NewOpenAIAdapter(OpenAIConfig{APIKey: "k", BaseURL: url, Timeout: 5 * time.Second}, &nopLog)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestOpenAIStream_SkipsMalformedChunk(t *testing.T) {
	var streamFlag bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		streamFlag = body.Stream
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range []string{
			`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
			`data: {not json`,
			`data: {"choices":[{"delta":{"content":" world"}}]}`,
			`data: {"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
			`data: [DONE]`,
			`data: {"choices":[{"delta":{"content":"after done"}}]}`,
		} {
			io.WriteString(w, l+"\n\n")
		}
	}))
	defer srv.Close()

	s, err := newTestOpenAI(t, srv.URL).Stream(context.Background(), userMsg("hi"), adapter.GenerateOptions{Model: "gpt-4o"})
	if err != nil {
		t.Fatal(err)
	}
	c, err := adapter.Drain(context.Background(), s, nil)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if c.Content != "Hello world" {
		t.Fatalf("content %q", c.Content)
	}
	if c.Usage.TotalTokens != 5 || c.Usage.PromptTokens != 3 {
		t.Fatalf("usage %+v", c.Usage)
	}
	if !streamFlag {
		t.Fatal("request did not ask for a stream")
	}
}

func TestOpenAIStream_TruncatedIsRetryable(t *testing.T) {
	srv := sseServer(t, `data: {"choices":[{"delta":{"content":"a"}}]}`)
	s, err := newTestOpenAI(t, srv.URL).Stream(context.Background(), userMsg("hi"), adapter.GenerateOptions{Model: "gpt-4o"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = adapter.Drain(context.Background(), s, nil)
	if !domain.IsRetryable(err) {
		t.Fatalf("want retryable error, got %v", err)
	}
}

func TestOpenAIAdapter_StatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			io.WriteString(w, `{"error":{"message":"nope","type":"test"}}`)
		}))
		a := newTestOpenAI(t, srv.URL)

		_, err := a.Complete(context.Background(), userMsg("hi"), adapter.GenerateOptions{Model: "gpt-4o"})
		var pErr *domain.ProviderError
		if !errors.As(err, &pErr) || pErr.StatusCode != tc.status || pErr.Retryable != tc.retryable {
			t.Errorf("complete %d: got %v", tc.status, err)
		}
		_, err = a.Stream(context.Background(), userMsg("hi"), adapter.GenerateOptions{Model: "gpt-4o"})
		if !errors.As(err, &pErr) || pErr.StatusCode != tc.status || pErr.Retryable != tc.retryable {
			t.Errorf("stream %d: got %v", tc.status, err)
		}
		srv.Close()
	}
}

func TestOpenAIAdapter_CompleteUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hi there"}}],"usage":{"prompt_tokens":2,"completion_tokens":2,"total_tokens":4}}`)
	}))
	defer srv.Close()

	c, err := newTestOpenAI(t, srv.URL).Complete(context.Background(), userMsg("hi"), adapter.GenerateOptions{Model: "gpt-4o"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Content != "hi there" || c.Usage.TotalTokens != 4 {
		t.Fatalf("got %+v", c)
	}
}

func newTestGemini(t *testing.T, url string, timeout time.Duration) *GeminiAdapter {
	t.Helper()
	g, err := NewGeminiAdapter(context.Background(), GeminiConfig{APIKey: "k", BaseURL: url, Timeout: timeout}, &nopLog)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestGeminiStream_SkipsMalformedChunk(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range []string{
			`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Hello"}]}}]}`,
			`data: {not json`,
			`data: {"candidates":[{"content":{"role":"model","parts":[{"text":" world"}]}}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"totalTokenCount":5}}`,
		} {
			io.WriteString(w, l+"\n\n")
		}
	}))
	defer srv.Close()

	s, err := newTestGemini(t, srv.URL, 5*time.Second).Stream(context.Background(), userMsg("hi"), adapter.GenerateOptions{Model: "gemini-1.5-flash"})
	if err != nil {
		t.Fatal(err)
	}
	c, err := adapter.Drain(context.Background(), s, nil)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if c.Content != "Hello world" || c.Usage.TotalTokens != 5 {
		t.Fatalf("got %+v", c)
	}
	if !strings.HasSuffix(path, "models/gemini-1.5-flash:streamGenerateContent") {
		t.Fatalf("path %s", path)
	}
}

func TestGeminiAdapter_StatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusForbidden, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		_, err := newTestGemini(t, srv.URL, 5*time.Second).Complete(context.Background(), userMsg("hi"), adapter.GenerateOptions{Model: "gemini-1.5-flash"})
		var pErr *domain.ProviderError
		if !errors.As(err, &pErr) || pErr.StatusCode != tc.status || pErr.Retryable != tc.retryable {
			t.Errorf("status %d: got %v", tc.status, err)
		}
		srv.Close()
	}
}

func TestGeminiAdapter_HonorsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := newTestGemini(t, srv.URL, 100*time.Millisecond).Complete(context.Background(), userMsg("hi"), adapter.GenerateOptions{Model: "gemini-1.5-flash"})
	if err == nil {
		t.Fatal("want timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("request outlived its timeout: %s", time.Since(start))
	}
	if !domain.IsRetryable(err) {
		t.Fatalf("timeout should be retryable, got %v", err)
	}
}

func TestGeminiAdapter_RequiresUserTurn(t *testing.T) {
	g := newTestGemini(t, "http://unused", time.Second)
	_, err := g.Complete(context.Background(), []adapter.Message{{Role: "system", Content: "be nice"}}, adapter.GenerateOptions{Model: "m"})
	if !errors.Is(err, domain.ErrNoMessages) {
		t.Fatalf("want ErrNoMessages, got %v", err)
	}
}
