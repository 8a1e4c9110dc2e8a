package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-realtime/internal/models"
)

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]models.Conversation
	byMemberKey   map[string]string
	messages      map[string]models.Message
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]models.Conversation),
		byMemberKey:   make(map[string]string),
		messages:      make(map[string]models.Message),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) FindOrCreatePair(_ context.Context, userID, peerID string, now time.Time) (models.Conversation, error) {
	members := models.SortedMembers([]string{userID, peerID})
	key := models.MemberKey(members)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byMemberKey[key]; ok {
		return copyConversation(s.conversations[id]), nil
	}
	conv := models.Conversation{
		ID:            uuid.NewString(),
		Members:       members,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.conversations[conv.ID] = conv
	s.byMemberKey[key] = conv.ID
	return copyConversation(conv), nil
}

func (s *MemoryStore) GetConversation(_ context.Context, conversationID string) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return copyConversation(conv), nil
}

func (s *MemoryStore) ListForUser(_ context.Context, userID string, limit int) ([]models.Conversation, error) {
	s.mu.RLock()
	result := make([]models.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.HasMember(userID) {
			result = append(result, copyConversation(conv))
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastMessageAt.Equal(result[j].LastMessageAt) {
			return result[i].LastMessageAt.After(result[j].LastMessageAt)
		}
		return result[i].ID > result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) UpdateSummary(_ context.Context, conversationID string, summary models.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	conv.LastMessage = summary.LastMessage
	conv.LastSenderID = summary.LastSenderID
	conv.LastMessageAt = summary.LastMessageAt
	conv.UpdatedAt = summary.LastMessageAt
	s.conversations[conversationID] = conv
	return nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg
	return msg, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, messageID string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, page models.MessagePage) ([]models.Message, error) {
	s.mu.RLock()
	msgs := []models.Message{}
	for _, msg := range s.messages {
		if msg.ConversationID != page.ConversationID {
			continue
		}
		if page.Before != nil && !msg.CreatedAt.Before(*page.Before) {
			continue
		}
		msgs = append(msgs, msg)
	}
	s.mu.RUnlock()

	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		}
		return msgs[i].ID > msgs[j].ID
	})
	if page.Limit > 0 && len(msgs) > page.Limit {
		msgs = msgs[:page.Limit]
	}
	return msgs, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, conversationID string, messageIDs []string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed int64
	for _, id := range messageIDs {
		msg, ok := s.messages[id]
		if !ok || msg.ConversationID != conversationID || msg.Status == models.StatusRead {
			continue
		}
		msg.Status = msg.Status.Advance(models.StatusRead)
		readAt := at
		msg.ReadAt = &readAt
		s.messages[id] = msg
		changed++
	}
	return changed, nil
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}

func copyConversation(conv models.Conversation) models.Conversation {
	conv.Members = append([]string(nil), conv.Members...)
	return conv
}
