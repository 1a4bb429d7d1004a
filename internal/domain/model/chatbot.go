package model

import "time"

// Providers known to the price table and the adapter registry.
const (
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderLocal     = "local"
	ProviderEcho      = "echo"
)

// ModelConfig is the per-chatbot model selection used for a completion.
type ModelConfig struct {
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	Temperature  float64       `json:"temperature"`
	MaxTokens    int           `json:"maxTokens"`
	SystemPrompt string        `json:"systemPrompt,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
}

// ChatbotConfig is the slice of a chatbot row the pipeline needs.
type ChatbotConfig struct {
	ID       string      `json:"id"`
	TenantID string      `json:"tenantId"`
	Model    ModelConfig `json:"model"`
}

const DefaultSystemPrompt = "You are a helpful assistant."

// DefaultModelConfig returns the stock settings for a provider.
func DefaultModelConfig(provider string) ModelConfig {
	switch provider {
	case ProviderAnthropic:
		return ModelConfig{Provider: provider, Model: "claude-3-haiku", Temperature: 0.7, MaxTokens: 1024, Timeout: 30 * time.Second}
	case ProviderAzure:
		return ModelConfig{Provider: provider, Model: "gpt-35-turbo", Temperature: 0.7, MaxTokens: 1024, Timeout: 30 * time.Second}
	case ProviderGoogle:
		return ModelConfig{Provider: provider, Model: "gemini-pro", Temperature: 0.7, MaxTokens: 1024, Timeout: 30 * time.Second}
	case ProviderLocal:
		return ModelConfig{Provider: provider, Model: "llama2", Temperature: 0.7, MaxTokens: 2048, Timeout: 60 * time.Second}
	case ProviderEcho:
		return ModelConfig{Provider: provider, Model: "echo", Temperature: 0, MaxTokens: 256, Timeout: 5 * time.Second}
	default:
		return ModelConfig{Provider: ProviderOpenAI, Model: "gpt-3.5-turbo", Temperature: 0.7, MaxTokens: 1024, Timeout: 30 * time.Second}
	}
}

// WithDefaults fills zero fields from the provider defaults.
func (c ModelConfig) WithDefaults() ModelConfig {
	d := DefaultModelConfig(c.Provider)
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	return c
}
