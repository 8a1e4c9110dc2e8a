package handlers

import (
	"errors"
	"net/http"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/chat"
	"chat-realtime/internal/repositories"
)

// statusFromError maps domain errors to an HTTP status and client message.
func statusFromError(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden, "not a conversation member"
	case errors.Is(err, repositories.ErrConversationNotFound):
		return http.StatusNotFound, "conversation not found"
	case errors.Is(err, repositories.ErrMessageNotFound):
		return http.StatusNotFound, "message not found"
	case errors.Is(err, repositories.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store unavailable"
	default:
		return http.StatusInternalServerError, fallback
	}
}
