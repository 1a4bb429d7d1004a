package application

import (
	"fmt"

	"chatbot-ai-pipeline/internal/config"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/usecase"
)

// CostModel lays the configured prices and priorities over the defaults.
func CostModel(cfg config.AIConfig) (*usecase.CostModel, error) {
	extra := usecase.PriceTable{}
	for provider, models := range cfg.Pricing {
		extra[provider] = map[string]usecase.ModelPrice{}
		for name, p := range models {
			if p.InputPer1KMicros < 0 || p.OutputPer1KMicros < 0 {
				return nil, fmt.Errorf("ai.pricing.%s.%s: negative price", provider, name)
			}
			extra[provider][name] = usecase.ModelPrice{InputPer1K: p.InputPer1KMicros, OutputPer1K: p.OutputPer1KMicros}
		}
	}

	priorities := usecase.DefaultPriorityTable()
	for name, p := range cfg.Priorities {
		t, err := model.ParseJobType(name)
		if err != nil {
			return nil, fmt.Errorf("ai.priorities: %w", err)
		}
		priorities[t] = p
	}
	return usecase.NewCostModel(usecase.DefaultPriceTable().Merge(extra), priorities), nil
}
