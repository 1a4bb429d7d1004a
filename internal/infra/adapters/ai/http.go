package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"chatbot-ai-pipeline/internal/domain"
)

const maxErrorBody = 4 << 10

// postJSON sends body and returns the response when the status is 2xx.
// Any other status becomes a *domain.ProviderError; the response text is
// kept on the error for logs and never shown to visitors.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &domain.ProviderError{Provider: provider, Retryable: true, Err: err}
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, domain.NewProviderError(provider, resp.StatusCode, fmt.Errorf("%s", bytes.TrimSpace(msg)))
	}
	return resp, nil
}

func decodeBody(provider string, resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &domain.ProviderError{Provider: provider, Retryable: true, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// estimateTokens is the ~4 characters per token heuristic shared by the
// providers without a tokenizer.
func estimateTokens(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}
