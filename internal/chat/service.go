package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

var (
	// ErrValidation marks a request missing a required field.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks a caller who is not a member of the conversation.
	ErrForbidden = errors.New("not a conversation member")
)

const (
	ConversationListLimit = 50
	DefaultMessageLimit   = 30
	MaxMessageLimit       = 100
)

// Service owns chat persistence rules shared by the live and HTTP paths.
type Service struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	log           *slog.Logger
	now           func() time.Time
}

// NewService builds a Service.
func NewService(conversations repositories.ConversationRepository, messages repositories.MessageRepository, log *slog.Logger) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) stamp() time.Time {
	// millisecond precision survives every store driver unchanged
	return s.now().UTC().Truncate(time.Millisecond)
}

// Authorize loads the conversation and checks that userID is a member.
func (s *Service) Authorize(ctx context.Context, conversationID, userID string) (models.Conversation, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !conv.HasMember(userID) {
		return models.Conversation{}, ErrForbidden
	}
	return conv, nil
}

// StartConversation finds or creates the two-party conversation between userID and peerID.
func (s *Service) StartConversation(ctx context.Context, userID, peerID string) (models.Conversation, error) {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return models.Conversation{}, fmt.Errorf("%w: toUserId required", ErrValidation)
	}
	if peerID == userID {
		return models.Conversation{}, fmt.Errorf("%w: cannot start a conversation with yourself", ErrValidation)
	}
	return s.conversations.FindOrCreatePair(ctx, userID, peerID, s.stamp())
}

// ListConversations returns the user's conversations, newest activity first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	return s.conversations.ListForUser(ctx, userID, ConversationListLimit)
}

// ListMessages returns a page of history in ascending createdAt order.
func (s *Service) ListMessages(ctx context.Context, userID string, page models.MessagePage) ([]models.Message, error) {
	if page.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversationId required", ErrValidation)
	}
	if _, err := s.Authorize(ctx, page.ConversationID, userID); err != nil {
		return nil, err
	}
	page.Limit = clampLimit(page.Limit)

	msgs, err := s.messages.ListMessages(ctx, page)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SendMessage persists a text message and refreshes the conversation summary.
// The summary write is best effort: once the message exists, a failed summary
// update is logged and the message is still returned.
func (s *Service) SendMessage(ctx context.Context, senderID, conversationID, text string) (models.Message, error) {
	if conversationID == "" || text == "" {
		return models.Message{}, fmt.Errorf("%w: conversationId and text required", ErrValidation)
	}
	if _, err := s.Authorize(ctx, conversationID, senderID); err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		Type:           models.MessageTypeText,
		Status:         models.StatusSent,
		CreatedAt:      s.stamp(),
	}
	msg, err := s.messages.CreateMessage(ctx, msg)
	if err != nil {
		return models.Message{}, err
	}

	summary := models.Summary{
		LastMessage:   msg.Text,
		LastSenderID:  msg.SenderID,
		LastMessageAt: msg.CreatedAt,
	}
	if err := s.conversations.UpdateSummary(ctx, conversationID, summary); err != nil {
		s.log.Warn("conversation summary left stale",
			"conversation_id", conversationID, "message_id", msg.ID, "error", err)
	}
	return msg, nil
}

// MarkRead marks the listed messages of a conversation as read.
func (s *Service) MarkRead(ctx context.Context, readerID, conversationID string, messageIDs []string) (int64, error) {
	if conversationID == "" {
		return 0, fmt.Errorf("%w: conversationId required", ErrValidation)
	}
	if _, err := s.Authorize(ctx, conversationID, readerID); err != nil {
		return 0, err
	}
	return s.messages.MarkRead(ctx, conversationID, messageIDs, s.stamp())
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		return MaxMessageLimit
	}
	return limit
}
