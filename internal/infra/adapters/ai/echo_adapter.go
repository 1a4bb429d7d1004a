package ai

import (
	"context"
	"hash/fnv"
	"strings"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"
)

var _ adapter.AIProvider = (*EchoAdapter)(nil)

// EchoAdapter answers with the last user message. It never leaves the
// process and is used by the demo binary and by tests.
type EchoAdapter struct{}

func NewEchoAdapter() *EchoAdapter { return &EchoAdapter{} }

func (EchoAdapter) Name() string { return model.ProviderEcho }

func (EchoAdapter) Supports(c adapter.Capability) bool { return true }

func (EchoAdapter) EstimateTokens(text string) int { return estimateTokens(text) }

func (e EchoAdapter) reply(messages []adapter.Message) (string, model.Usage, error) {
	var last string
	prompt := 0
	for _, m := range messages {
		prompt += estimateTokens(m.Content)
		if m.Role == "user" {
			last = m.Content
		}
	}
	if last == "" {
		return "", model.Usage{}, domain.ErrNoMessages
	}
	out := "Echo: " + last
	u := model.Usage{PromptTokens: prompt, CompletionTokens: estimateTokens(out)}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return out, u, nil
}

func (e EchoAdapter) Complete(ctx context.Context, messages []adapter.Message, opts adapter.GenerateOptions) (*adapter.Completion, error) {
	out, u, err := e.reply(messages)
	if err != nil {
		return nil, err
	}
	return &adapter.Completion{Content: out, Usage: u}, nil
}

// Stream yields the reply one word at a time.
func (e EchoAdapter) Stream(ctx context.Context, messages []adapter.Message, opts adapter.GenerateOptions) (adapter.ChunkStream, error) {
	out, u, err := e.reply(messages)
	if err != nil {
		return nil, err
	}
	words := strings.SplitAfter(out, " ")
	chunks := make([]model.StreamChunk, 0, len(words)+1)
	for _, w := range words {
		if w != "" {
			chunks = append(chunks, model.StreamChunk{Content: w})
		}
	}
	chunks = append(chunks, model.StreamChunk{IsComplete: true, Usage: &u})
	return adapter.NewSliceStream(chunks, nil), nil
}

// Embed returns a small deterministic vector derived from the text.
func (EchoAdapter) Embed(ctx context.Context, text string, modelName string) ([]float64, error) {
	out := make([]float64, 8)
	for i := range out {
		h := fnv.New32a()
		h.Write([]byte{byte(i)})
		h.Write([]byte(text))
		out[i] = float64(h.Sum32()%1000) / 1000
	}
	return out, nil
}
