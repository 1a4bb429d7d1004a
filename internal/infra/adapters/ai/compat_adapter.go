package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.AIProvider = (*CompatAdapter)(nil)

// CompatAdapter speaks the OpenAI chat completions wire format over plain
// HTTP. It serves Azure OpenAI deployments (api-version set) and any
// OpenAI-compatible gateway. Streams are SSE "data:" lines ending with
// "data: [DONE]".
type CompatAdapter struct {
	name           string
	apiKey         string
	base           string
	apiVersion     string
	embeddingModel string
	client         *http.Client
	log            *zerolog.Logger
}

type CompatConfig struct {
	Name           string
	APIKey         string
	BaseURL        string
	APIVersion     string // azure only
	EmbeddingModel string
	Timeout        time.Duration
}

func NewCompatAdapter(cfg CompatConfig, logger *zerolog.Logger) (*CompatAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: empty api key", cfg.Name)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s: empty base url", cfg.Name)
	}
	l := logger.With().Str("component", "ai").Str("provider", cfg.Name).Logger()
	return &CompatAdapter{
		name:           cfg.Name,
		apiKey:         cfg.APIKey,
		base:           strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion:     cfg.APIVersion,
		embeddingModel: cfg.EmbeddingModel,
		client:         newHTTPClient(cfg.Timeout),
		log:            &l,
	}, nil
}

func (c *CompatAdapter) Name() string { return c.name }

func (c *CompatAdapter) Supports(cp adapter.Capability) bool {
	if cp == adapter.CapabilityEmbedding {
		return c.embeddingModel != ""
	}
	return true
}

func (c *CompatAdapter) EstimateTokens(text string) int { return estimateTokens(text) }

func (c *CompatAdapter) endpoint(deployment, op string) string {
	if c.apiVersion != "" {
		return fmt.Sprintf("%s/openai/deployments/%s/%s?api-version=%s", c.base, url.PathEscape(deployment), op, url.QueryEscape(c.apiVersion))
	}
	return c.base + "/" + op
}

func (c *CompatAdapter) headers() map[string]string {
	if c.apiVersion != "" {
		return map[string]string{"api-key": c.apiKey}
	}
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

type compatRequest struct {
	Model         string            `json:"model,omitempty"`
	Messages      []adapter.Message `json:"messages"`
	Temperature   float64           `json:"temperature"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
}

type compatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *compatUsage) toModel() *model.Usage {
	if u == nil {
		return nil
	}
	return &model.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}

func (c *CompatAdapter) request(messages []adapter.Message, opts adapter.GenerateOptions, stream bool) compatRequest {
	r := compatRequest{
		Messages:    withSystem(messages, opts.SystemPrompt),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	}
	if c.apiVersion == "" {
		r.Model = opts.Model
	}
	if stream {
		r.StreamOptions = &struct {
			IncludeUsage bool `json:"include_usage"`
		}{IncludeUsage: true}
	}
	return r
}

func (c *CompatAdapter) Complete(ctx context.Context, messages []adapter.Message, opts adapter.GenerateOptions) (*adapter.Completion, error) {
	resp, err := postJSON(ctx, c.client, c.name, c.endpoint(opts.Model, "chat/completions"), c.headers(), c.request(messages, opts, false))
	if err != nil {
		return nil, err
	}
	var payload struct {
		Choices []struct {
			Message adapter.Message `json:"message"`
		} `json:"choices"`
		Usage *compatUsage `json:"usage"`
	}
	if err := decodeBody(c.name, resp, &payload); err != nil {
		return nil, err
	}
	for _, ch := range payload.Choices {
		if ch.Message.Content != "" {
			out := &adapter.Completion{Content: ch.Message.Content}
			if u := payload.Usage.toModel(); u != nil {
				out.Usage = *u
			}
			return out, nil
		}
	}
	return nil, domain.ErrEmptyResponse
}

func (c *CompatAdapter) Stream(ctx context.Context, messages []adapter.Message, opts adapter.GenerateOptions) (adapter.ChunkStream, error) {
	resp, err := postJSON(ctx, c.client, c.name, c.endpoint(opts.Model, "chat/completions"), c.headers(), c.request(messages, opts, true))
	if err != nil {
		return nil, err
	}
	return newLineStream(c.name, resp.Body, decodeOpenAISSE(c.name), false, c.log), nil
}

// decodeOpenAISSE parses chat.completion.chunk events. Usage arrives on a
// trailing chunk with no choices when stream_options.include_usage is set.
func decodeOpenAISSE(provider string) decodeFunc {
	return func(line []byte) (frame, error) {
		data, ok := sseData(line)
		if !ok {
			return frame{skip: true}, nil
		}
		if string(data) == string(doneSentinel) {
			return frame{final: true}, nil
		}
		var ev struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage *compatUsage `json:"usage"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return frame{}, fmt.Errorf("%w: %v", domain.ErrMalformedChunk, err)
		}
		if ev.Error != nil {
			return frame{}, &domain.ProviderError{Provider: provider, Retryable: true, Err: errors.New(ev.Error.Message)}
		}
		f := frame{usage: ev.Usage.toModel()}
		for _, ch := range ev.Choices {
			f.content += ch.Delta.Content
		}
		return f, nil
	}
}

func (c *CompatAdapter) Embed(ctx context.Context, text string, modelName string) ([]float64, error) {
	if !c.Supports(adapter.CapabilityEmbedding) {
		return nil, &domain.CapabilityError{Provider: c.name, Capability: string(adapter.CapabilityEmbedding)}
	}
	if modelName == "" {
		modelName = c.embeddingModel
	}
	body := map[string]any{"input": text}
	if c.apiVersion == "" {
		body["model"] = modelName
	}
	resp, err := postJSON(ctx, c.client, c.name, c.endpoint(modelName, "embeddings"), c.headers(), body)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := decodeBody(c.name, resp, &payload); err != nil {
		return nil, err
	}
	if len(payload.Data) == 0 {
		return nil, domain.ErrEmptyResponse
	}
	return payload.Data[0].Embedding, nil
}

// withSystem prepends the system prompt unless the history already has one.
func withSystem(messages []adapter.Message, system string) []adapter.Message {
	if system == "" {
		return messages
	}
	for _, m := range messages {
		if m.Role == "system" {
			return messages
		}
	}
	out := make([]adapter.Message, 0, len(messages)+1)
	out = append(out, adapter.Message{Role: "system", Content: system})
	return append(out, messages...)
}
