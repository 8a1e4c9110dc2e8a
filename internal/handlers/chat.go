package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/middleware"
	"chat-realtime/internal/models"
)

// ChatService is the conversation surface exposed over HTTP.
type ChatService interface {
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	StartConversation(ctx context.Context, userID, peerID string) (models.Conversation, error)
	ListMessages(ctx context.Context, userID string, page models.MessagePage) ([]models.Message, error)
	SendMessage(ctx context.Context, senderID, conversationID, text string) (models.Message, error)
}

// ChatHandler manages conversation and message endpoints.
type ChatHandler struct {
	chat ChatService
	log  *slog.Logger
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chat ChatService, log *slog.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, log: log}
}

// ListConversations returns the caller's conversations, newest activity first.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	convs, err := h.chat.ListConversations(c.Request.Context(), c.GetString(middleware.UserIDKey))
	if err != nil {
		h.fail(c, err, "failed to load conversations")
		return
	}
	c.JSON(http.StatusOK, convs)
}

// StartConversation finds or creates the conversation with toUserId.
func (h *ChatHandler) StartConversation(c *gin.Context) {
	var req struct {
		ToUserID string `json:"toUserId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "toUserId required"})
		return
	}

	conv, err := h.chat.StartConversation(c.Request.Context(), c.GetString(middleware.UserIDKey), req.ToUserID)
	if err != nil {
		h.fail(c, err, "could not create conversation")
		return
	}
	c.JSON(http.StatusOK, conv)
}

// ListMessages pages a conversation's history in ascending order.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	page := models.MessagePage{ConversationID: c.Query("conversationId")}
	if page.ConversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId required"})
		return
	}
	if raw := c.Query("before"); raw != "" {
		before, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be an RFC 3339 timestamp"})
			return
		}
		page.Before = &before
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		page.Limit = limit
	}

	msgs, err := h.chat.ListMessages(c.Request.Context(), c.GetString(middleware.UserIDKey), page)
	if err != nil {
		h.fail(c, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// PostMessage stores a message. Live subscribers are not notified.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req struct {
		ConversationID string `json:"conversationId" binding:"required"`
		Text           string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId and text required"})
		return
	}

	msg, err := h.chat.SendMessage(c.Request.Context(), c.GetString(middleware.UserIDKey), req.ConversationID, req.Text)
	if err != nil {
		h.fail(c, err, "failed to store message")
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ChatHandler) fail(c *gin.Context, err error, fallback string) {
	status, message := statusFromError(err, fallback)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", c.FullPath(), "user_id", c.GetString(middleware.UserIDKey), "error", err)
	}
	c.JSON(status, gin.H{"error": message})
}
