package usecase

import (
	"strings"
	"unicode/utf8"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
)

// Micros is an amount of USD in millionths.
type Micros = int64

// ModelPrice is the price of 1000 tokens in micro-USD.
type ModelPrice struct {
	InputPer1K  Micros `yaml:"input_per_1k_micros"`
	OutputPer1K Micros `yaml:"output_per_1k_micros"`
}

// PriceTable maps provider -> model -> price.
type PriceTable map[string]map[string]ModelPrice

// PriorityTable maps a job type to its queue priority (1..10, higher first).
type PriorityTable map[model.JobType]int

const (
	DefaultPriority = 5
	minPriority     = 1
	maxPriority     = 10
)

// DefaultPriceTable returns the stock price list.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		model.ProviderAnthropic: {
			"claude-3-haiku":  {InputPer1K: 250, OutputPer1K: 1250},
			"claude-3-opus":   {InputPer1K: 15000, OutputPer1K: 75000},
			"claude-3-sonnet": {InputPer1K: 3000, OutputPer1K: 15000},
		},
		model.ProviderAzure: {
			"gpt-4":        {InputPer1K: 30000, OutputPer1K: 60000},
			"gpt-35-turbo": {InputPer1K: 500, OutputPer1K: 1500},
		},
		model.ProviderGoogle: {
			"gemini-pro":        {InputPer1K: 250, OutputPer1K: 500},
			"gemini-pro-vision": {InputPer1K: 250, OutputPer1K: 500},
		},
		model.ProviderLocal: {
			"llama2":  {},
			"mistral": {},
		},
		model.ProviderOpenAI: {
			"gpt-3.5-turbo": {InputPer1K: 500, OutputPer1K: 1500},
			"gpt-4":         {InputPer1K: 30000, OutputPer1K: 60000},
			"gpt-4-turbo":   {InputPer1K: 10000, OutputPer1K: 30000},
		},
		model.ProviderEcho: {
			"echo": {},
		},
	}
}

func DefaultPriorityTable() PriorityTable {
	return PriorityTable{
		model.JobTypeChatResponse:         10,
		model.JobTypeSentimentAnalysis:    8,
		model.JobTypeIntentClassification: 8,
		model.JobTypeEntityExtraction:     6,
		model.JobTypeSummarization:        4,
		model.JobTypeEmbeddingGeneration:  3,
		model.JobTypeBatchProcessing:      2,
	}
}

// Merge returns a copy of t with o's entries laid over it.
func (t PriceTable) Merge(o PriceTable) PriceTable {
	out := make(PriceTable, len(t))
	for p, models := range t {
		out[p] = make(map[string]ModelPrice, len(models))
		for m, price := range models {
			out[p][m] = price
		}
	}
	for p, models := range o {
		p = normalizeName(p)
		if out[p] == nil {
			out[p] = make(map[string]ModelPrice, len(models))
		}
		for m, price := range models {
			out[p][normalizeName(m)] = price
		}
	}
	return out
}

// CostModel holds the immutable price and priority tables.
type CostModel struct {
	prices     PriceTable
	priorities PriorityTable
}

// NewCostModel copies the tables; nil tables fall back to the defaults.
func NewCostModel(prices PriceTable, priorities PriorityTable) *CostModel {
	if prices == nil {
		prices = DefaultPriceTable()
	}
	if priorities == nil {
		priorities = DefaultPriorityTable()
	}
	pr := make(PriorityTable, len(priorities))
	for k, v := range priorities {
		pr[k] = clampPriority(v)
	}
	return &CostModel{prices: PriceTable{}.Merge(prices), priorities: pr}
}

// PriorityOf returns the queue priority of a job type. Unknown types get 5.
func (c *CostModel) PriorityOf(t model.JobType) int {
	if p, ok := c.priorities[t]; ok {
		return p
	}
	return DefaultPriority
}

// Known reports whether the provider/model pair is priced.
func (c *CostModel) Known(provider, modelName string) bool {
	_, ok := c.prices[normalizeName(provider)][normalizeName(modelName)]
	return ok
}

// EstimateCost prices a call as in/1000*input + out/1000*output, rounded to
// six decimals (whole micros, half up).
func (c *CostModel) EstimateCost(provider, modelName string, inputTokens, outputTokens int) (Micros, error) {
	price, ok := c.prices[normalizeName(provider)][normalizeName(modelName)]
	if !ok {
		return 0, &domain.ConfigurationError{Provider: provider, Model: modelName}
	}
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	milli := int64(inputTokens)*price.InputPer1K + int64(outputTokens)*price.OutputPer1K
	return (milli + 500) / 1000, nil
}

// EstimateTokens is a rough ~4 characters per token count, only good enough
// for pre-flight rate limiting.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

func clampPriority(p int) int {
	if p < minPriority {
		return minPriority
	}
	if p > maxPriority {
		return maxPriority
	}
	return p
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
