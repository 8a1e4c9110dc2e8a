package models

import "encoding/json"

// Live event names, inbound and outbound.
const (
	EventJoin    = "chat:join"
	EventTyping  = "chat:typing"
	EventSend    = "chat:send"
	EventRead    = "chat:read"
	EventMessage = "chat:message"
	EventError   = "chat:error"
)

// Envelope frames a named event on the websocket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload is the body of chat:join.
type JoinPayload struct {
	ConversationID string `json:"conversationId"`
}

// TypingPayload is the body of inbound chat:typing.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// SendPayload is the body of chat:send.
type SendPayload struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
}

// ReadPayload is the body of chat:read in both directions.
type ReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// TypingNotice is broadcast to peers of a typing user.
type TypingNotice struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// ErrorNotice acknowledges a failed event to its sender.
type ErrorNotice struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

// NewEnvelope marshals data under the given event name.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}
