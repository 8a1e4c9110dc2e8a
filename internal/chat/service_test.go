package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newMemoryService(t *testing.T) (*Service, *repositories.MemoryStore, *stepClock) {
	t.Helper()
	store := repositories.NewMemoryStore()
	clock := &stepClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(store, store, testLogger).WithClock(clock.now)
	return svc, store, clock
}

func TestStartConversationIsIdempotent(t *testing.T) {
	svc, _, _ := newMemoryService(t)
	ctx := context.Background()

	first, err := svc.StartConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	second, err := svc.StartConversation(ctx, "u2", "u1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.ElementsMatch(t, []string{"u1", "u2"}, first.Members)
	assert.Equal(t, first.CreatedAt, first.LastMessageAt)
}

func TestStartConversationRejectsBadPeer(t *testing.T) {
	svc, _, _ := newMemoryService(t)

	_, err := svc.StartConversation(context.Background(), "u1", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.StartConversation(context.Background(), "u1", "u1")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSendMessageStoresAndUpdatesSummary(t *testing.T) {
	svc, store, _ := newMemoryService(t)
	ctx := context.Background()

	conv, err := svc.StartConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, "u1", conv.ID, "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Equal(t, models.MessageTypeText, msg.Type)
	assert.Equal(t, "u1", msg.SenderID)
	assert.Nil(t, msg.ReadAt)

	updated, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", updated.LastMessage)
	assert.Equal(t, "u1", updated.LastSenderID)
	assert.True(t, msg.CreatedAt.Equal(updated.LastMessageAt))
	assert.False(t, msg.CreatedAt.Before(conv.LastMessageAt))
}

func TestSendMessageValidationAndMembership(t *testing.T) {
	svc, _, _ := newMemoryService(t)
	ctx := context.Background()
	conv, err := svc.StartConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, "u1", conv.ID, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.SendMessage(ctx, "u1", "", "hi")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.SendMessage(ctx, "u3", conv.ID, "hi")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.SendMessage(ctx, "u1", "missing", "hi")
	assert.ErrorIs(t, err, repositories.ErrConversationNotFound)
}

func TestListMessagesAscendingWithBefore(t *testing.T) {
	svc, _, _ := newMemoryService(t)
	ctx := context.Background()
	conv, err := svc.StartConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	var sent []models.Message
	for _, text := range []string{"one", "two", "three"} {
		msg, err := svc.SendMessage(ctx, "u1", conv.ID, text)
		require.NoError(t, err)
		sent = append(sent, msg)
	}

	all, err := svc.ListMessages(ctx, "u2", models.MessagePage{ConversationID: conv.ID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"one", "two", "three"}, []string{all[0].Text, all[1].Text, all[2].Text})

	before := sent[2].CreatedAt
	page, err := svc.ListMessages(ctx, "u2", models.MessagePage{ConversationID: conv.ID, Before: &before})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, sent[0].ID, page[0].ID)
	assert.Equal(t, sent[1].ID, page[1].ID)

	latest, err := svc.ListMessages(ctx, "u2", models.MessagePage{ConversationID: conv.ID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "three", latest[0].Text)
}

func TestListMessagesRejectsOutsider(t *testing.T) {
	svc, _, _ := newMemoryService(t)
	ctx := context.Background()
	conv, err := svc.StartConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	_, err = svc.ListMessages(ctx, "u3", models.MessagePage{ConversationID: conv.ID})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	svc, store, _ := newMemoryService(t)
	ctx := context.Background()
	conv, err := svc.StartConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	msg, err := svc.SendMessage(ctx, "u1", conv.ID, "hi")
	require.NoError(t, err)

	n, err := svc.MarkRead(ctx, "u2", conv.ID, []string{msg.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	first, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, first.ReadAt)
	assert.Equal(t, models.StatusRead, first.Status)

	n, err = svc.MarkRead(ctx, "u2", conv.ID, []string{msg.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	second, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, first.ReadAt.Equal(*second.ReadAt))
}

func TestMarkReadIgnoresForeignMessages(t *testing.T) {
	svc, store, _ := newMemoryService(t)
	ctx := context.Background()
	a, err := svc.StartConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	b, err := svc.StartConversation(ctx, "u1", "u3")
	require.NoError(t, err)
	other, err := svc.SendMessage(ctx, "u1", b.ID, "elsewhere")
	require.NoError(t, err)

	n, err := svc.MarkRead(ctx, "u2", a.ID, []string{other.ID, "unknown"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	kept, err := store.GetMessage(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, kept.Status)
}

func TestSendMessageSurvivesSummaryFailure(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	svc := NewService(convRepo, msgRepo, testLogger)

	conv := models.Conversation{ID: "c1", Members: []string{"u1", "u2"}}
	convRepo.On("GetConversation", mock.Anything, "c1").Return(conv, nil)
	msgRepo.On("CreateMessage", mock.Anything, mock.AnythingOfType("models.Message")).
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Text: "hi", Status: models.StatusSent}, nil)
	convRepo.On("UpdateSummary", mock.Anything, "c1", mock.AnythingOfType("models.Summary")).
		Return(errors.New("write timeout"))

	msg, err := svc.SendMessage(context.Background(), "u1", "c1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Text)
	convRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
}

func TestSendMessageStoreFailure(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	svc := NewService(convRepo, msgRepo, testLogger)

	convRepo.On("GetConversation", mock.Anything, "c1").
		Return(models.Conversation{ID: "c1", Members: []string{"u1", "u2"}}, nil)
	msgRepo.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, repositories.ErrStoreUnavailable)

	_, err := svc.SendMessage(context.Background(), "u1", "c1", "hi")
	assert.ErrorIs(t, err, repositories.ErrStoreUnavailable)
	convRepo.AssertNotCalled(t, "UpdateSummary", mock.Anything, mock.Anything, mock.Anything)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultMessageLimit, clampLimit(0))
	assert.Equal(t, DefaultMessageLimit, clampLimit(-3))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, MaxMessageLimit, clampLimit(500))
}
