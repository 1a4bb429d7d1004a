package ai

import (
	"strings"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"
)

// Registry maps provider names to adapters. The worker resolves the
// provider per job from the chatbot's model configuration.
type Registry struct {
	defaultProvider string
	byProvider      map[string]adapter.AIProvider
	modelToProvider map[string]string // model -> provider
}

// NewRegistry does not inject any default model; it only knows a default
// provider used when a configuration names none.
func NewRegistry(defaultProvider string, modelToProvider map[string]string, providers ...adapter.AIProvider) *Registry {
	r := &Registry{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      make(map[string]adapter.AIProvider, len(providers)),
		modelToProvider: make(map[string]string, len(modelToProvider)),
	}
	for m, p := range modelToProvider {
		r.modelToProvider[m] = strings.ToLower(p)
	}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p adapter.AIProvider) {
	r.byProvider[strings.ToLower(p.Name())] = p
}

// Names lists the registered providers.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byProvider))
	for n := range r.byProvider {
		out = append(out, n)
	}
	return out
}

// ResolveProvider picks the provider for a configuration: the explicit
// provider, then the model mapping, then model-name prefixes, then the
// default.
func (r *Registry) ResolveProvider(provider, model string) string {
	if provider != "" {
		return strings.ToLower(provider)
	}
	if p := r.modelToProvider[model]; p != "" {
		return p
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "google"
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "text-embedding"):
		return "openai"
	case strings.HasPrefix(l, "claude"):
		return "anthropic"
	default:
		return r.defaultProvider
	}
}

// Get returns the adapter registered under name. An unknown provider is a
// configuration error and is never retried.
func (r *Registry) Get(name string) (adapter.AIProvider, error) {
	if p := r.byProvider[strings.ToLower(name)]; p != nil {
		return p, nil
	}
	return nil, &domain.ConfigurationError{Provider: name}
}

// ForModel resolves and returns the adapter for a configuration.
func (r *Registry) ForModel(provider, model string) (adapter.AIProvider, error) {
	name := r.ResolveProvider(provider, model)
	p, err := r.Get(name)
	if err != nil {
		return nil, &domain.ConfigurationError{Provider: name, Model: model}
	}
	return p, nil
}
