package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"chatbot-ai-pipeline/internal/domain"
)

// JobPayload is implemented by one struct per job type. Each variant carries
// only the fields its job type needs.
type JobPayload interface {
	JobType() JobType
	// Text returns the primary content the job operates on.
	Text() string
}

// ChatTurn is one prior message of the conversation.
type ChatTurn struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

type ChatResponsePayload struct {
	ChatbotID   string       `json:"chatbotId"`
	SessionID   string       `json:"sessionId,omitempty"`
	Content     string       `json:"content"`
	Context     []ChatTurn   `json:"context,omitempty"`
	Stream      bool         `json:"stream"`
	ModelConfig *ModelConfig `json:"modelConfig,omitempty"`
}

func (ChatResponsePayload) JobType() JobType { return JobTypeChatResponse }
func (p ChatResponsePayload) Text() string { return p.Content }

type SentimentAnalysisPayload struct {
	Content     string       `json:"content"`
	ModelConfig *ModelConfig `json:"modelConfig,omitempty"`
}

func (SentimentAnalysisPayload) JobType() JobType { return JobTypeSentimentAnalysis }
func (p SentimentAnalysisPayload) Text() string { return p.Content }

type IntentClassificationPayload struct {
	Content     string       `json:"content"`
	Candidates  []string     `json:"candidates,omitempty"`
	ModelConfig *ModelConfig `json:"modelConfig,omitempty"`
}

func (IntentClassificationPayload) JobType() JobType { return JobTypeIntentClassification }
func (p IntentClassificationPayload) Text() string { return p.Content }

type EntityExtractionPayload struct {
	Content     string       `json:"content"`
	EntityTypes []string     `json:"entityTypes,omitempty"`
	ModelConfig *ModelConfig `json:"modelConfig,omitempty"`
}

func (EntityExtractionPayload) JobType() JobType { return JobTypeEntityExtraction }
func (p EntityExtractionPayload) Text() string { return p.Content }

type SummarizationPayload struct {
	Content     string       `json:"content"`
	MaxWords    int          `json:"maxWords,omitempty"`
	ModelConfig *ModelConfig `json:"modelConfig,omitempty"`
}

func (SummarizationPayload) JobType() JobType { return JobTypeSummarization }
func (p SummarizationPayload) Text() string { return p.Content }

type BatchProcessingPayload struct {
	Instruction string       `json:"instruction"`
	Items       []string     `json:"items"`
	ModelConfig *ModelConfig `json:"modelConfig,omitempty"`
}

func (BatchProcessingPayload) JobType() JobType { return JobTypeBatchProcessing }
func (p BatchProcessingPayload) Text() string {
	return strings.Join(append([]string{p.Instruction}, p.Items...), "\n")
}

type EmbeddingGenerationPayload struct {
	Content  string `json:"content"`
	Provider string `json:"provider,omitempty"`
}

func (EmbeddingGenerationPayload) JobType() JobType { return JobTypeEmbeddingGeneration }
func (p EmbeddingGenerationPayload) Text() string { return p.Content }

// PayloadModelConfig returns the model configuration carried by a payload, if any.
func PayloadModelConfig(p JobPayload) *ModelConfig {
	switch v := p.(type) {
	case ChatResponsePayload:
		return v.ModelConfig
	case SentimentAnalysisPayload:
		return v.ModelConfig
	case IntentClassificationPayload:
		return v.ModelConfig
	case EntityExtractionPayload:
		return v.ModelConfig
	case SummarizationPayload:
		return v.ModelConfig
	case BatchProcessingPayload:
		return v.ModelConfig
	default:
		return nil
	}
}

// DecodePayload decodes raw into the variant selected by t.
func DecodePayload(t JobType, raw json.RawMessage) (JobPayload, error) {
	var (
		p   JobPayload
		err error
	)
	switch t {
	case JobTypeChatResponse:
		var v ChatResponsePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case JobTypeSentimentAnalysis:
		var v SentimentAnalysisPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case JobTypeIntentClassification:
		var v IntentClassificationPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case JobTypeEntityExtraction:
		var v EntityExtractionPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case JobTypeSummarization:
		var v SummarizationPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case JobTypeBatchProcessing:
		var v BatchProcessingPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case JobTypeEmbeddingGeneration:
		var v EmbeddingGenerationPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownJobType, t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

type SentimentResult struct {
	Score      float64 `json:"score"`      // -1 to 1
	Confidence float64 `json:"confidence"` // 0 to 1
	Label      string  `json:"label"`      // positive | neutral | negative
}

type IntentResult struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

type EntityResult struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type JobResult struct {
	Content   string           `json:"content,omitempty"`
	Usage     *Usage           `json:"usage,omitempty"`
	Embedding []float64        `json:"embedding,omitempty"`
	Sentiment *SentimentResult `json:"sentiment,omitempty"`
	Intent    *IntentResult    `json:"intent,omitempty"`
	Entities  []EntityResult   `json:"entities,omitempty"`
	Items     []string         `json:"items,omitempty"`
	Cached    bool             `json:"cached,omitempty"`
}
