package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

var _ adapter.AIProvider = (*AnthropicAdapter)(nil)

const (
	anthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

// AnthropicAdapter talks to the Messages API. It has no embedding endpoint.
type AnthropicAdapter struct {
	apiKey string
	base   string
	client *http.Client
	log    *zerolog.Logger
}

func NewAnthropicAdapter(apiKey, baseURL string, timeout time.Duration, logger *zerolog.Logger) (*AnthropicAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: empty api key")
	}
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	l := logger.With().Str("component", "ai").Str("provider", model.ProviderAnthropic).Logger()
	return &AnthropicAdapter{
		apiKey: apiKey,
		base:   strings.TrimRight(baseURL, "/"),
		client: newHTTPClient(timeout),
		log:    &l,
	}, nil
}

func (a *AnthropicAdapter) Name() string { return model.ProviderAnthropic }

func (a *AnthropicAdapter) Supports(c adapter.Capability) bool {
	return c != adapter.CapabilityEmbedding
}

func (a *AnthropicAdapter) EstimateTokens(text string) int { return estimateTokens(text) }

type anthropicRequest struct {
	Model       string            `json:"model"`
	MaxTokens   int               `json:"max_tokens"`
	System      string            `json:"system,omitempty"`
	Messages    []adapter.Message `json:"messages"`
	Temperature float64           `json:"temperature"`
	Stream      bool              `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// request moves system turns into the top-level system field; the API only
// accepts user and assistant roles in messages.
func (a *AnthropicAdapter) request(messages []adapter.Message, opts adapter.GenerateOptions, stream bool) anthropicRequest {
	r := anthropicRequest{
		Model:       opts.Model,
		MaxTokens:   opts.MaxTokens,
		System:      opts.SystemPrompt,
		Temperature: opts.Temperature,
		Stream:      stream,
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = 1024
	}
	for _, m := range messages {
		if m.Role == "system" {
			if r.System == "" {
				r.System = m.Content
			}
			continue
		}
		r.Messages = append(r.Messages, m)
	}
	return r
}

func (a *AnthropicAdapter) headers() map[string]string {
	return map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	}
}

func (a *AnthropicAdapter) Complete(ctx context.Context, messages []adapter.Message, opts adapter.GenerateOptions) (*adapter.Completion, error) {
	resp, err := postJSON(ctx, a.client, a.Name(), a.base+"/v1/messages", a.headers(), a.request(messages, opts, false))
	if err != nil {
		return nil, err
	}
	var payload struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage anthropicUsage `json:"usage"`
	}
	if err := decodeBody(a.Name(), resp, &payload); err != nil {
		return nil, err
	}
	var sb strings.Builder
	for _, c := range payload.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, domain.ErrEmptyResponse
	}
	return &adapter.Completion{
		Content: sb.String(),
		Usage: model.Usage{
			PromptTokens:     payload.Usage.InputTokens,
			CompletionTokens: payload.Usage.OutputTokens,
			TotalTokens:      payload.Usage.InputTokens + payload.Usage.OutputTokens,
		},
	}, nil
}

func (a *AnthropicAdapter) Stream(ctx context.Context, messages []adapter.Message, opts adapter.GenerateOptions) (adapter.ChunkStream, error) {
	resp, err := postJSON(ctx, a.client, a.Name(), a.base+"/v1/messages", a.headers(), a.request(messages, opts, true))
	if err != nil {
		return nil, err
	}
	return newLineStream(a.Name(), resp.Body, newAnthropicDecoder(), false, a.log), nil
}

// newAnthropicDecoder follows the typed event stream: input tokens arrive
// with message_start, output tokens with message_delta, and message_stop
// ends the stream.
func newAnthropicDecoder() decodeFunc {
	var usage model.Usage
	return func(line []byte) (frame, error) {
		data, ok := sseData(line)
		if !ok {
			return frame{skip: true}, nil
		}
		var ev struct {
			Type    string `json:"type"`
			Message struct {
				Usage anthropicUsage `json:"usage"`
			} `json:"message"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
			Usage *anthropicUsage `json:"usage"`
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return frame{}, fmt.Errorf("%w: %v", domain.ErrMalformedChunk, err)
		}
		switch ev.Type {
		case "message_start":
			usage.PromptTokens = ev.Message.Usage.InputTokens
			usage.CompletionTokens = ev.Message.Usage.OutputTokens
		case "content_block_delta":
			return frame{content: ev.Delta.Text}, nil
		case "message_delta":
			if ev.Usage != nil {
				usage.CompletionTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			u := usage
			u.TotalTokens = u.PromptTokens + u.CompletionTokens
			return frame{final: true, usage: &u}, nil
		case "error":
			retryable := ev.Error.Type == "overloaded_error" || ev.Error.Type == "api_error"
			return frame{}, &domain.ProviderError{Provider: model.ProviderAnthropic, Retryable: retryable, Err: errors.New(ev.Error.Message)}
		}
		return frame{skip: true}, nil
	}
}

func (a *AnthropicAdapter) Embed(ctx context.Context, text string, modelName string) ([]float64, error) {
	return nil, &domain.CapabilityError{Provider: a.Name(), Capability: string(adapter.CapabilityEmbedding)}
}
