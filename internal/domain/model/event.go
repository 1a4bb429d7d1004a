package model

import "time"

// StreamChunk is one incremental fragment of a completion.
type StreamChunk struct {
	ConversationID string `json:"conversationId,omitempty"`
	Content        string `json:"content"`
	IsComplete     bool   `json:"isComplete"`
	Usage          *Usage `json:"usage,omitempty"`
}

type EventType string

const (
	// EventMessage is a raw visitor message waiting to become a job.
	EventMessage  EventType = "message"
	EventStream   EventType = "stream"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// BroadcastEvent travels on the shared broadcast topic. Routing is done by
// ConversationID on the receiving side.
type BroadcastEvent struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
	JobID          string    `json:"jobId,omitempty"`
	Attempt        int       `json:"attempt,omitempty"`
	Seq            int       `json:"seq,omitempty"`
	Content        string    `json:"content,omitempty"`
	Usage          *Usage    `json:"usage,omitempty"`
	Error          string    `json:"error,omitempty"`

	// message events
	TenantID  string `json:"tenantId,omitempty"`
	ChatbotID string `json:"chatbotId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// JoinGrant is what a validated join token entitles a connection to.
type JoinGrant struct {
	ConversationID string
	ChatbotID      string
	SessionID      string
	TenantID       string
}
