package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"chat-realtime/internal/models"
)

// ErrUnauthorized covers missing, malformed, expired or badly signed tokens.
var ErrUnauthorized = errors.New("unauthorized")

// Claims carried by identity tokens issued by the login flow.
type Claims struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Verifier validates HMAC-signed identity tokens against a shared secret.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier constructs a Verifier.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify accepts a raw token or a "Bearer <token>" value and returns the caller's identity.
func (v *Verifier) Verify(raw string) (models.Identity, error) {
	token := StripScheme(raw)
	if token == "" {
		return models.Identity{}, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return models.Identity{}, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	userID := claims.ID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return models.Identity{}, fmt.Errorf("%w: no user id in token", ErrUnauthorized)
	}
	return models.Identity{UserID: userID, DisplayName: claims.Name}, nil
}

// StripScheme removes a leading "Bearer " marker, case-insensitively.
func StripScheme(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}
