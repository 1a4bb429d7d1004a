package realtime

import (
	"encoding/json"
	"time"

	"chatbot-ai-pipeline/internal/domain/model"
)

// Client -> server events.
const (
	EvJoin        = "join:conversation"
	EvLeave       = "leave:conversation"
	EvSend        = "message:send"
	EvTypingStart = "typing:start"
	EvTypingStop  = "typing:stop"
)

// Server -> client events.
const (
	EvJoined   = "conversation:joined"
	EvLeft     = "conversation:left"
	EvReceived = "message:received"
	EvStream   = "message:stream"
	EvComplete = "message:complete"
	EvMsgError = "message:error"
	EvError    = "error"
)

// Envelope is the wire shape of every frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Frame is an encoded envelope queued for one or more clients.
type Frame struct {
	Event string
	Body  []byte
}

func NewFrame(event string, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	body, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Body: body}, nil
}

type joinRequest struct {
	ConversationID string `json:"conversationId"`
	Token          string `json:"token"`
}

type conversationRequest struct {
	ConversationID string `json:"conversationId"`
}

type sendRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

type conversationAck struct {
	ConversationID string `json:"conversationId"`
}

type receivedPayload struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
}

type typingPayload struct {
	ConversationID string `json:"conversationId"`
	SessionID      string `json:"sessionId,omitempty"`
}

// Seq restarts at 1 on every attempt; clients drop partial text carrying an
// older attempt.
type streamPayload struct {
	ConversationID string    `json:"conversationId"`
	Attempt        int       `json:"attempt"`
	Content        string    `json:"content"`
	Seq            int       `json:"seq"`
	Timestamp      time.Time `json:"timestamp"`
}

type completePayload struct {
	ConversationID string       `json:"conversationId"`
	Attempt        int          `json:"attempt"`
	Content        string       `json:"content"`
	Usage          *model.Usage `json:"usage,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

type messageErrorPayload struct {
	ConversationID string    `json:"conversationId"`
	Error          string    `json:"error"`
	Timestamp      time.Time `json:"timestamp"`
}

type errorPayload struct {
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
}
