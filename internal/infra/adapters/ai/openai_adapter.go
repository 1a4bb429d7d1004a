package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.AIProvider = (*OpenAIAdapter)(nil)

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	Timeout        time.Duration
	// ExactTokens counts prompt tokens with tiktoken instead of the
	// character heuristic.
	ExactTokens bool
}

// OpenAIAdapter implements adapter.AIProvider on the official SDK.
type OpenAIAdapter struct {
	client         openai.Client
	embeddingModel string
	exact          bool
	log            *zerolog.Logger

	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

func NewOpenAIAdapter(cfg OpenAIConfig, logger *zerolog.Logger) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		// retries belong to the job queue
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	l := logger.With().Str("component", "ai").Str("provider", model.ProviderOpenAI).Logger()
	return &OpenAIAdapter{
		client:         openai.NewClient(opts...),
		embeddingModel: cfg.EmbeddingModel,
		exact:          cfg.ExactTokens,
		log:            &l,
	}, nil
}

func (o *OpenAIAdapter) Name() string { return model.ProviderOpenAI }

func (o *OpenAIAdapter) Supports(c adapter.Capability) bool { return true }

// EstimateTokens uses the cl100k tokenizer when exact counting is on and
// the encoding can be loaded; otherwise the 4-chars heuristic.
func (o *OpenAIAdapter) EstimateTokens(text string) int {
	if !o.exact {
		return estimateTokens(text)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.enc == nil {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			o.log.Warn().Err(err).Msg("tiktoken unavailable, falling back to heuristic")
			o.exact = false
			return estimateTokens(text)
		}
		o.enc = enc
	}
	return len(o.enc.Encode(text, nil, nil))
}

func (o *OpenAIAdapter) params(messages []adapter.Message, opts adapter.GenerateOptions) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	for _, m := range withSystem(messages, opts.SystemPrompt) {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	p := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(opts.Model),
		Messages:    msgs,
		Temperature: openai.Float(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		p.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	return p
}

func (o *OpenAIAdapter) Complete(ctx context.Context, messages []adapter.Message, opts adapter.GenerateOptions) (*adapter.Completion, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(messages, opts))
	if err != nil {
		return nil, o.wrap(err)
	}
	for _, c := range resp.Choices {
		if c.Message.Content != "" {
			return &adapter.Completion{
				Content: c.Message.Content,
				Usage: model.Usage{
					PromptTokens:     int(resp.Usage.PromptTokens),
					CompletionTokens: int(resp.Usage.CompletionTokens),
					TotalTokens:      int(resp.Usage.TotalTokens),
				},
			}, nil
		}
	}
	return nil, domain.ErrEmptyResponse
}

// Stream posts through the SDK but takes the raw body, so chunks are decoded
// by the shared SSE reader and a bad chunk is skipped instead of ending the
// stream.
func (o *OpenAIAdapter) Stream(ctx context.Context, messages []adapter.Message, opts adapter.GenerateOptions) (adapter.ChunkStream, error) {
	p := o.params(messages, opts)
	p.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	var resp *http.Response
	err := o.client.Post(ctx, "chat/completions", p, &resp, option.WithJSONSet("stream", true))
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, o.wrap(err)
	}
	return newLineStream(o.Name(), resp.Body, decodeOpenAISSE(o.Name()), false, o.log), nil
}

func (o *OpenAIAdapter) Embed(ctx context.Context, text string, modelName string) ([]float64, error) {
	if modelName == "" {
		modelName = o.embeddingModel
	}
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(modelName),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, o.wrap(err)
	}
	if len(resp.Data) == 0 {
		return nil, domain.ErrEmptyResponse
	}
	return resp.Data[0].Embedding, nil
}

func (o *OpenAIAdapter) wrap(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return domain.NewProviderError(o.Name(), apiErr.StatusCode, err)
	}
	return &domain.ProviderError{Provider: o.Name(), Retryable: true, Err: err}
}
