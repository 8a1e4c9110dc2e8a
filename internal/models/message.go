package models

import "time"

// MessageType distinguishes message payload kinds.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
)

// MessageStatus is the delivery state of a message. It only moves forward.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

var statusRank = map[MessageStatus]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusRead:      2,
}

// Advance returns the later of the two statuses so a transition never regresses.
func (s MessageStatus) Advance(next MessageStatus) MessageStatus {
	cur, ok := statusRank[s]
	if !ok {
		return next
	}
	if n, ok := statusRank[next]; ok && n > cur {
		return next
	}
	return s
}

// Message represents a chat message inside a conversation.
type Message struct {
	ID             string        `db:"id" bson:"_id" json:"id"`
	ConversationID string        `db:"conversation_id" bson:"conversationId" json:"conversationId"`
	SenderID       string        `db:"sender_id" bson:"senderId" json:"senderId"`
	Text           string        `db:"text" bson:"text" json:"text"`
	Type           MessageType   `db:"type" bson:"type" json:"type"`
	Status         MessageStatus `db:"status" bson:"status" json:"status"`
	ReadAt         *time.Time    `db:"read_at" bson:"readAt,omitempty" json:"readAt,omitempty"`
	CreatedAt      time.Time     `db:"created_at" bson:"createdAt" json:"createdAt"`
}

// MessagePage selects a window of a conversation's history.
type MessagePage struct {
	ConversationID string
	Before         *time.Time
	Limit          int
}
