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

var _ adapter.AIProvider = (*LocalAdapter)(nil)

// LocalAdapter targets a self-hosted Ollama server. Its stream is
// newline-delimited JSON without a terminator line; the last object has
// done=true and the token counts.
type LocalAdapter struct {
	base           string
	embeddingModel string
	client         *http.Client
	log            *zerolog.Logger
}

func NewLocalAdapter(baseURL, embeddingModel string, timeout time.Duration, logger *zerolog.Logger) (*LocalAdapter, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if embeddingModel == "" {
		embeddingModel = "nomic-embed-text"
	}
	l := logger.With().Str("component", "ai").Str("provider", model.ProviderLocal).Logger()
	return &LocalAdapter{
		base:           strings.TrimRight(baseURL, "/"),
		embeddingModel: embeddingModel,
		client:         newHTTPClient(timeout),
		log:            &l,
	}, nil
}

func (l *LocalAdapter) Name() string { return model.ProviderLocal }

func (l *LocalAdapter) Supports(c adapter.Capability) bool { return true }

func (l *LocalAdapter) EstimateTokens(text string) int { return estimateTokens(text) }

type ollamaChat struct {
	Model    string            `json:"model"`
	Messages []adapter.Message `json:"messages"`
	Stream   bool              `json:"stream"`
	Options  map[string]any    `json:"options,omitempty"`
}

type ollamaReply struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

func (r ollamaReply) usage() *model.Usage {
	return &model.Usage{PromptTokens: r.PromptEvalCount, CompletionTokens: r.EvalCount, TotalTokens: r.PromptEvalCount + r.EvalCount}
}

func (l *LocalAdapter) request(messages []adapter.Message, opts adapter.GenerateOptions, stream bool) ollamaChat {
	req := ollamaChat{
		Model:    opts.Model,
		Messages: withSystem(messages, opts.SystemPrompt),
		Stream:   stream,
		Options:  map[string]any{"temperature": opts.Temperature},
	}
	if opts.MaxTokens > 0 {
		req.Options["num_predict"] = opts.MaxTokens
	}
	return req
}

func (l *LocalAdapter) Complete(ctx context.Context, messages []adapter.Message, opts adapter.GenerateOptions) (*adapter.Completion, error) {
	resp, err := postJSON(ctx, l.client, l.Name(), l.base+"/api/chat", nil, l.request(messages, opts, false))
	if err != nil {
		return nil, err
	}
	var r ollamaReply
	if err := decodeBody(l.Name(), resp, &r); err != nil {
		return nil, err
	}
	if r.Error != "" {
		return nil, &domain.ProviderError{Provider: l.Name(), Retryable: true, Err: errors.New(r.Error)}
	}
	if r.Message.Content == "" {
		return nil, domain.ErrEmptyResponse
	}
	return &adapter.Completion{Content: r.Message.Content, Usage: *r.usage()}, nil
}

func (l *LocalAdapter) Stream(ctx context.Context, messages []adapter.Message, opts adapter.GenerateOptions) (adapter.ChunkStream, error) {
	resp, err := postJSON(ctx, l.client, l.Name(), l.base+"/api/chat", nil, l.request(messages, opts, true))
	if err != nil {
		return nil, err
	}
	return newLineStream(l.Name(), resp.Body, decodeNDJSON(l.Name()), true, l.log), nil
}

func decodeNDJSON(provider string) decodeFunc {
	return func(line []byte) (frame, error) {
		var r ollamaReply
		if err := json.Unmarshal(line, &r); err != nil {
			return frame{}, fmt.Errorf("%w: %v", domain.ErrMalformedChunk, err)
		}
		if r.Error != "" {
			return frame{}, &domain.ProviderError{Provider: provider, Retryable: true, Err: errors.New(r.Error)}
		}
		if r.Done {
			return frame{content: r.Message.Content, usage: r.usage(), final: true}, nil
		}
		return frame{content: r.Message.Content}, nil
	}
}

func (l *LocalAdapter) Embed(ctx context.Context, text string, modelName string) ([]float64, error) {
	if modelName == "" {
		modelName = l.embeddingModel
	}
	resp, err := postJSON(ctx, l.client, l.Name(), l.base+"/api/embeddings", nil, map[string]string{"model": modelName, "prompt": text})
	if err != nil {
		return nil, err
	}
	var r struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := decodeBody(l.Name(), resp, &r); err != nil {
		return nil, err
	}
	if len(r.Embedding) == 0 {
		return nil, domain.ErrEmptyResponse
	}
	return r.Embedding, nil
}
