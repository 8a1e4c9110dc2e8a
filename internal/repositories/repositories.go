package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-realtime/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	// ErrStoreUnavailable wraps any backend failure.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	FindOrCreatePair(ctx context.Context, userID, peerID string, now time.Time) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]models.Conversation, error)
	UpdateSummary(ctx context.Context, conversationID string, summary models.Summary) error
}

// MessageRepository abstracts message persistence.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	// ListMessages returns the page newest first; equal timestamps order by id descending.
	ListMessages(ctx context.Context, page models.MessagePage) ([]models.Message, error)
	// MarkRead moves the listed messages of a conversation to read and returns how many changed.
	MarkRead(ctx context.Context, conversationID string, messageIDs []string, at time.Time) (int64, error)
}

// Store bundles both repositories behind one backend.
type Store interface {
	ConversationRepository
	MessageRepository
	Close(ctx context.Context) error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
