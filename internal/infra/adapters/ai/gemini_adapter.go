package ai

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"strings"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"
	"chatbot-ai-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

var _ adapter.AIProvider = (*GeminiAdapter)(nil)

type GeminiAdapter struct {
	client         *genai.Client
	embeddingModel string
	log            *zerolog.Logger
}

type GeminiConfig struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	Timeout        time.Duration
}

// NewGeminiAdapter creates a Gemini adapter using the official SDK.
func NewGeminiAdapter(ctx context.Context, cfg GeminiConfig, logger *zerolog.Logger) (*GeminiAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
			Timeout: genai.Ptr(cfg.Timeout),
		},
	})
	if err != nil {
		return nil, err
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-004"
	}
	l := logger.With().Str("component", "ai").Str("provider", model.ProviderGoogle).Logger()
	return &GeminiAdapter{client: c, embeddingModel: cfg.EmbeddingModel, log: &l}, nil
}

func (g *GeminiAdapter) Name() string { return model.ProviderGoogle }

func (g *GeminiAdapter) Supports(c adapter.Capability) bool { return true }

func (g *GeminiAdapter) EstimateTokens(text string) int { return estimateTokens(text) }

func (g *GeminiAdapter) Complete(ctx context.Context, messages []adapter.Message, opts adapter.GenerateOptions) (*adapter.Completion, error) {
	contents, cfg, err := g.request(messages, opts)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Models.GenerateContent(ctx, opts.Model, contents, cfg)
	if err != nil {
		return nil, g.wrap(err)
	}
	text := responseText(resp)
	if text == "" {
		return nil, domain.ErrEmptyResponse
	}
	out := &adapter.Completion{Content: text}
	if u := responseUsage(resp); u != nil {
		out.Usage = *u
	}
	return out, nil
}

func (g *GeminiAdapter) Stream(ctx context.Context, messages []adapter.Message, opts adapter.GenerateOptions) (adapter.ChunkStream, error) {
	contents, cfg, err := g.request(messages, opts)
	if err != nil {
		return nil, err
	}
	next, stop := iter.Pull2(g.client.Models.GenerateContentStream(ctx, opts.Model, contents, cfg))
	return &geminiStream{owner: g, next: next, stop: stop}, nil
}

func (g *GeminiAdapter) Embed(ctx context.Context, text string, modelName string) ([]float64, error) {
	if modelName == "" {
		modelName = g.embeddingModel
	}
	resp, err := g.client.Models.EmbedContent(ctx, modelName, genai.Text(text), nil)
	if err != nil {
		return nil, g.wrap(err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, domain.ErrEmptyResponse
	}
	vals := resp.Embeddings[0].Values
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = float64(v)
	}
	return out, nil
}

// --- internal ---

func (g *GeminiAdapter) request(messages []adapter.Message, opts adapter.GenerateOptions) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	system := opts.SystemPrompt
	var turns []adapter.Message
	for _, m := range messages {
		if strings.ToLower(m.Role) == "system" {
			if system == "" {
				system = m.Content
			}
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 0 {
		return nil, nil, domain.ErrNoMessages
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	return toGenAIHistory(turns), cfg, nil
}

func (g *GeminiAdapter) wrap(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if code, ok := apiErrorCode(err); ok {
		return domain.NewProviderError(g.Name(), code, err)
	}
	return &domain.ProviderError{Provider: g.Name(), Retryable: true, Err: err}
}

// The SDK reports server errors as APIError values or pointers.
func apiErrorCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code, true
	}
	return 0, false
}

// malformedChunk reports whether the SDK failed to decode one stream event.
// The iterator keeps going after such an error.
func malformedChunk(err error) bool {
	if _, ok := apiErrorCode(err); ok {
		return false
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
		strings.HasPrefix(err.Error(), "iterateResponseStream: invalid stream chunk")
}

func toGenAIHistory(msgs []adapter.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		switch strings.ToLower(m.Role) {
		case "assistant", "model":
			role = genai.RoleModel
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return out
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

func responseUsage(resp *genai.GenerateContentResponse) *model.Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return nil
	}
	return &model.Usage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
}

// geminiStream pulls from the SDK iterator; the last response carries the
// usage metadata and the iterator simply ends. An event the SDK cannot
// decode is skipped.
type geminiStream struct {
	owner *GeminiAdapter
	next  func() (*genai.GenerateContentResponse, error, bool)
	stop  func()
	cur   model.StreamChunk
	usage *model.Usage
	done  bool
	err   error
}

func (s *geminiStream) Next(ctx context.Context) bool {
	if s.done || s.err != nil {
		return false
	}
	for {
		if err := ctx.Err(); err != nil {
			s.err = err
			return false
		}
		resp, err, ok := s.next()
		if !ok {
			s.done = true
			s.cur = model.StreamChunk{IsComplete: true, Usage: s.usage}
			return true
		}
		if err != nil {
			if malformedChunk(err) {
				metrics.IncMalformedChunk(s.owner.Name())
				s.owner.log.Warn().Err(err).Msg("skipping malformed stream chunk")
				continue
			}
			s.err = s.owner.wrap(err)
			return false
		}
		if u := responseUsage(resp); u != nil {
			s.usage = u
		}
		if text := responseText(resp); text != "" {
			s.cur = model.StreamChunk{Content: text}
			return true
		}
	}
}

func (s *geminiStream) Chunk() model.StreamChunk { return s.cur }

func (s *geminiStream) Err() error { return s.err }

func (s *geminiStream) Close() error {
	s.stop()
	return nil
}
