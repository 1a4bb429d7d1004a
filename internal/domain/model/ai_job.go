package model

import (
	"encoding/json"
	"fmt"
	"time"

	"chatbot-ai-pipeline/internal/domain"
)

type AIJobStatus string

const (
	AIJobStatusPending    AIJobStatus = "pending"
	AIJobStatusProcessing AIJobStatus = "processing"
	AIJobStatusRetrying   AIJobStatus = "retrying"
	AIJobStatusCompleted  AIJobStatus = "completed"
	AIJobStatusFailed     AIJobStatus = "failed"
	AIJobStatusCancelled  AIJobStatus = "cancelled"
)

// MaxRetries is the number of retries granted after the first attempt.
const MaxRetries = 3

type JobType string

const (
	JobTypeChatResponse         JobType = "chat_response"
	JobTypeSentimentAnalysis    JobType = "sentiment_analysis"
	JobTypeIntentClassification JobType = "intent_classification"
	JobTypeEntityExtraction     JobType = "entity_extraction"
	JobTypeSummarization        JobType = "summarization"
	JobTypeBatchProcessing      JobType = "batch_processing"
	JobTypeEmbeddingGeneration  JobType = "embedding_generation"
)

// AllJobTypes lists the closed set of job types.
var AllJobTypes = []JobType{
	JobTypeChatResponse,
	JobTypeSentimentAnalysis,
	JobTypeIntentClassification,
	JobTypeEntityExtraction,
	JobTypeSummarization,
	JobTypeBatchProcessing,
	JobTypeEmbeddingGeneration,
}

func ParseJobType(s string) (JobType, error) {
	for _, t := range AllJobTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnknownJobType, s)
}

// Terminal reports whether no further transition is possible.
func (s AIJobStatus) Terminal() bool {
	return s == AIJobStatusCompleted || s == AIJobStatusFailed || s == AIJobStatusCancelled
}

type JobError struct {
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Provider   string        `json:"provider,omitempty"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
}

type JobMetadata struct {
	RetryCount     int           `json:"retryCount"`
	CostEstimate   int64         `json:"costEstimate,omitempty"` // micro-USD
	ActualCost     int64         `json:"actualCost,omitempty"`   // micro-USD
	ProcessingTime time.Duration `json:"processingTime,omitempty"`
	Provider       string        `json:"provider,omitempty"`
	Model          string        `json:"model,omitempty"`
}

type AIJob struct {
	ID             string
	TenantID       string
	ConversationID string
	Type           JobType
	Status         AIJobStatus
	Priority       int
	Payload        JobPayload
	Result         *JobResult
	Error          *JobError
	Metadata       JobMetadata
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// NewAIJob builds a pending job; the type is taken from the payload variant.
func NewAIJob(id, tenantID, conversationID string, priority int, payload JobPayload) *AIJob {
	return &AIJob{
		ID:             id,
		TenantID:       tenantID,
		ConversationID: conversationID,
		Type:           payload.JobType(),
		Status:         AIJobStatusPending,
		Priority:       priority,
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
	}
}

var allowedTransitions = map[AIJobStatus][]AIJobStatus{
	AIJobStatusPending:    {AIJobStatusProcessing, AIJobStatusCancelled},
	AIJobStatusProcessing: {AIJobStatusCompleted, AIJobStatusFailed, AIJobStatusCancelled},
	AIJobStatusFailed:     {AIJobStatusRetrying},
	AIJobStatusRetrying:   {AIJobStatusProcessing, AIJobStatusCancelled},
}

// TransitionTo moves the job through its state machine.
// RetryCount is incremented when a retry is granted, so a retrying job may
// restart processing only while RetryCount <= MaxRetries.
func (j *AIJob) TransitionTo(next AIJobStatus, now time.Time) error {
	ok := false
	for _, s := range allowedTransitions[j.Status] {
		if s == next {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStatus, j.Status, next)
	}
	switch next {
	case AIJobStatusRetrying:
		if j.Metadata.RetryCount >= MaxRetries {
			return fmt.Errorf("%w: retries exhausted", domain.ErrInvalidStatus)
		}
		j.Metadata.RetryCount++
	case AIJobStatusProcessing:
		if j.Status == AIJobStatusRetrying && j.Metadata.RetryCount > MaxRetries {
			return fmt.Errorf("%w: retries exhausted", domain.ErrInvalidStatus)
		}
		t := now
		j.StartedAt = &t
	case AIJobStatusCompleted, AIJobStatusFailed, AIJobStatusCancelled:
		t := now
		j.CompletedAt = &t
	}
	j.Status = next
	return nil
}

// Fail records err on the job and moves it to failed.
func (j *AIJob) Fail(err *JobError, now time.Time) error {
	j.Error = err
	return j.TransitionTo(AIJobStatusFailed, now)
}

type aiJobJSON struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenantId"`
	ConversationID string          `json:"conversationId,omitempty"`
	Type           JobType         `json:"type"`
	Status         AIJobStatus     `json:"status"`
	Priority       int             `json:"priority"`
	Payload        json.RawMessage `json:"payload"`
	Result         *JobResult      `json:"result,omitempty"`
	Error          *JobError       `json:"error,omitempty"`
	Metadata       JobMetadata     `json:"metadata"`
	CreatedAt      time.Time       `json:"createdAt"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

func (j AIJob) MarshalJSON() ([]byte, error) {
	if j.Payload == nil {
		return nil, fmt.Errorf("ai job %s: nil payload", j.ID)
	}
	if j.Payload.JobType() != j.Type {
		return nil, fmt.Errorf("ai job %s: payload %s does not match type %s", j.ID, j.Payload.JobType(), j.Type)
	}
	raw, err := json.Marshal(j.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(aiJobJSON{
		ID:             j.ID,
		TenantID:       j.TenantID,
		ConversationID: j.ConversationID,
		Type:           j.Type,
		Status:         j.Status,
		Priority:       j.Priority,
		Payload:        raw,
		Result:         j.Result,
		Error:          j.Error,
		Metadata:       j.Metadata,
		CreatedAt:      j.CreatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	})
}

func (j *AIJob) UnmarshalJSON(b []byte) error {
	var v aiJobJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	payload, err := DecodePayload(v.Type, v.Payload)
	if err != nil {
		return err
	}
	*j = AIJob{
		ID:             v.ID,
		TenantID:       v.TenantID,
		ConversationID: v.ConversationID,
		Type:           v.Type,
		Status:         v.Status,
		Priority:       v.Priority,
		Payload:        payload,
		Result:         v.Result,
		Error:          v.Error,
		Metadata:       v.Metadata,
		CreatedAt:      v.CreatedAt,
		StartedAt:      v.StartedAt,
		CompletedAt:    v.CompletedAt,
	}
	return nil
}
