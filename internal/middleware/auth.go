package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/models"
)

// Context keys set by AuthMiddleware.
const (
	UserIDKey      = "userID"
	DisplayNameKey = "displayName"
)

// TokenVerifier resolves a bearer token to an identity.
type TokenVerifier interface {
	Verify(raw string) (models.Identity, error)
}

// AuthMiddleware validates the Authorization header with the identity verifier.
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		identity, err := verifier.Verify(header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(UserIDKey, identity.UserID)
		c.Set(DisplayNameKey, identity.DisplayName)
		c.Next()
	}
}
