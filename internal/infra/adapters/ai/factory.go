package ai

import (
	"context"
	"fmt"
	"strings"

	"chatbot-ai-pipeline/internal/config"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

// NewRegistryFromConfig builds one adapter per configured provider, each
// behind the shared concurrency cap. The echo provider is always present.
func NewRegistryFromConfig(ctx context.Context, cfg config.AIConfig, logger *zerolog.Logger) (*Registry, error) {
	reg := NewRegistry(cfg.DefaultProvider, cfg.ModelProviders, NewEchoAdapter())
	for name, pc := range cfg.Providers {
		p, err := newProvider(ctx, strings.ToLower(name), pc, logger)
		if err != nil {
			return nil, fmt.Errorf("ai provider %s: %w", name, err)
		}
		reg.Register(NewLimitedProvider(p, cfg.ConcurrentLimit))
		logger.Info().Str("provider", p.Name()).Str("default_model", pc.DefaultModel).Msg("ai provider registered")
	}
	if _, err := reg.Get(reg.defaultProvider); err != nil {
		return nil, fmt.Errorf("default ai provider %q is not configured", reg.defaultProvider)
	}
	return reg, nil
}

func newProvider(ctx context.Context, name string, pc config.ProviderConfig, logger *zerolog.Logger) (adapter.AIProvider, error) {
	switch name {
	case model.ProviderOpenAI:
		if pc.BaseURL != "" && pc.APIVersion == "" && !strings.Contains(pc.BaseURL, "openai.com") {
			// OpenAI-compatible gateway
			return NewCompatAdapter(CompatConfig{Name: name, APIKey: pc.APIKey, BaseURL: pc.BaseURL, EmbeddingModel: pc.EmbeddingModel, Timeout: pc.Timeout}, logger)
		}
		return NewOpenAIAdapter(OpenAIConfig{APIKey: pc.APIKey, BaseURL: pc.BaseURL, EmbeddingModel: pc.EmbeddingModel, Timeout: pc.Timeout, ExactTokens: pc.ExactTokens}, logger)
	case model.ProviderAzure:
		if pc.APIVersion == "" {
			pc.APIVersion = "2024-02-01"
		}
		return NewCompatAdapter(CompatConfig{Name: name, APIKey: pc.APIKey, BaseURL: pc.BaseURL, APIVersion: pc.APIVersion, EmbeddingModel: pc.EmbeddingModel, Timeout: pc.Timeout}, logger)
	case model.ProviderAnthropic:
		return NewAnthropicAdapter(pc.APIKey, pc.BaseURL, pc.Timeout, logger)
	case model.ProviderGoogle, "gemini":
		return NewGeminiAdapter(ctx, GeminiConfig{APIKey: pc.APIKey, BaseURL: pc.BaseURL, EmbeddingModel: pc.EmbeddingModel, Timeout: pc.Timeout}, logger)
	case model.ProviderLocal:
		return NewLocalAdapter(pc.BaseURL, pc.EmbeddingModel, pc.Timeout, logger)
	case model.ProviderEcho:
		return NewEchoAdapter(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
