package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/chat"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupChatRouter(convRepo *mocks.ConversationRepositoryMock, msgRepo *mocks.MessageRepositoryMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewChatHandler(chat.NewService(convRepo, msgRepo, discard), discard)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, "u1")
		c.Next()
	})
	r.GET("/health", Health)
	r.GET("/conversations", handler.ListConversations)
	r.POST("/conversations", handler.StartConversation)
	r.GET("/messages", handler.ListMessages)
	r.POST("/messages", handler.PostMessage)
	return r
}

func serve(router *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func member() models.Conversation {
	return models.Conversation{ID: "c1", Members: []string{"u1", "u2"}}
}

func TestHealth(t *testing.T) {
	router := setupChatRouter(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock))
	rec := serve(router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestListConversationsSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	router := setupChatRouter(convRepo, new(mocks.MessageRepositoryMock))

	convRepo.On("ListForUser", mock.Anything, "u1", chat.ConversationListLimit).
		Return([]models.Conversation{member()}, nil).Once()

	rec := serve(router, http.MethodGet, "/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp []models.Conversation
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "c1", resp[0].ID)
	convRepo.AssertExpectations(t)
}

func TestListConversationsStoreDown(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	router := setupChatRouter(convRepo, new(mocks.MessageRepositoryMock))

	convRepo.On("ListForUser", mock.Anything, "u1", chat.ConversationListLimit).
		Return(nil, repositories.ErrStoreUnavailable).Once()

	rec := serve(router, http.MethodGet, "/conversations", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"store unavailable"}`, rec.Body.String())
}

func TestStartConversation(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	router := setupChatRouter(convRepo, new(mocks.MessageRepositoryMock))

	convRepo.On("FindOrCreatePair", mock.Anything, "u1", "u2", mock.AnythingOfType("time.Time")).
		Return(member(), nil).Once()

	rec := serve(router, http.MethodPost, "/conversations", `{"toUserId":"u2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var conv models.Conversation
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&conv))
	assert.Equal(t, "c1", conv.ID)
	convRepo.AssertExpectations(t)
}

func TestStartConversationValidation(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	router := setupChatRouter(convRepo, new(mocks.MessageRepositoryMock))

	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/conversations", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/conversations", `{"toUserId":"u1"}`).Code)
	convRepo.AssertNotCalled(t, "FindOrCreatePair", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListMessagesPassesPaging(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	router := setupChatRouter(convRepo, msgRepo)

	before := time.Date(2024, 5, 1, 12, 0, 3, 0, time.UTC)
	t1 := before.Add(-2 * time.Second)
	t2 := before.Add(-time.Second)

	convRepo.On("GetConversation", mock.Anything, "c1").Return(member(), nil).Once()
	msgRepo.On("ListMessages", mock.Anything, mock.MatchedBy(func(p models.MessagePage) bool {
		return p.ConversationID == "c1" && p.Limit == 2 && p.Before != nil && p.Before.Equal(before)
	})).Return([]models.Message{
		{ID: "m2", ConversationID: "c1", CreatedAt: t2},
		{ID: "m1", ConversationID: "c1", CreatedAt: t1},
	}, nil).Once()

	rec := serve(router, http.MethodGet, "/messages?conversationId=c1&limit=2&before="+before.Format(time.RFC3339), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	msgRepo.AssertExpectations(t)
}

func TestListMessagesBadQuery(t *testing.T) {
	router := setupChatRouter(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock))

	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/messages", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/messages?conversationId=c1&before=yesterday", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/messages?conversationId=c1&limit=ten", "").Code)
}

func TestListMessagesForbiddenAndMissing(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	router := setupChatRouter(convRepo, new(mocks.MessageRepositoryMock))

	convRepo.On("GetConversation", mock.Anything, "c2").
		Return(models.Conversation{ID: "c2", Members: []string{"u3", "u4"}}, nil).Once()
	convRepo.On("GetConversation", mock.Anything, "gone").
		Return(nil, repositories.ErrConversationNotFound).Once()

	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodGet, "/messages?conversationId=c2", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/messages?conversationId=gone", "").Code)
}

func TestPostMessageCreated(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	router := setupChatRouter(convRepo, msgRepo)

	created := models.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Text: "hello", Type: models.MessageTypeText, Status: models.StatusSent}
	convRepo.On("GetConversation", mock.Anything, "c1").Return(member(), nil).Once()
	msgRepo.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.Text == "hello" && m.SenderID == "u1" && m.Status == models.StatusSent
	})).Return(created, nil).Once()
	convRepo.On("UpdateSummary", mock.Anything, "c1", mock.AnythingOfType("models.Summary")).Return(nil).Once()

	rec := serve(router, http.MethodPost, "/messages", `{"conversationId":"c1","text":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.Equal(t, "m1", msg.ID)
	convRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
}

func TestPostMessageValidation(t *testing.T) {
	router := setupChatRouter(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock))

	rec := serve(router, http.MethodPost, "/messages", `{"conversationId":"c1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"conversationId and text required"}`, rec.Body.String())
}

func TestStatusFromError(t *testing.T) {
	status, msg := statusFromError(assert.AnError, "boom")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "boom", msg)
}
