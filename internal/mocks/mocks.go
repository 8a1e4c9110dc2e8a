package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) FindOrCreatePair(ctx context.Context, userID, peerID string, now time.Time) (models.Conversation, error) {
	args := m.Called(ctx, userID, peerID, now)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) ListForUser(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	args := m.Called(ctx, userID, limit)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) UpdateSummary(ctx context.Context, conversationID string, summary models.Summary) error {
	args := m.Called(ctx, conversationID, summary)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, page models.MessagePage) ([]models.Message, error) {
	args := m.Called(ctx, page)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, conversationID string, messageIDs []string, at time.Time) (int64, error) {
	args := m.Called(ctx, conversationID, messageIDs, at)
	var n int64
	if val := args.Get(0); val != nil {
		n = val.(int64)
	}
	return n, args.Error(1)
}

var (
	_ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
	_ repositories.MessageRepository      = (*MessageRepositoryMock)(nil)
)
