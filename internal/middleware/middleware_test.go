package middleware

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type verifierStub struct {
	identity models.Identity
	err      error
}

func (v verifierStub) Verify(string) (models.Identity, error) {
	return v.identity, v.err
}

func setupAuthRouter(verifier TokenVerifier) *gin.Engine {
	router := gin.New()
	router.GET("/me", AuthMiddleware(verifier), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": c.GetString(UserIDKey), "name": c.GetString(DisplayNameKey)})
	})
	return router
}

func TestAuthMiddlewareSetsIdentity(t *testing.T) {
	router := setupAuthRouter(verifierStub{identity: models.Identity{UserID: "u1", DisplayName: "Alice"}})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"u1","name":"Alice"}`, w.Body.String())
}

func TestAuthMiddlewareRejects(t *testing.T) {
	router := setupAuthRouter(verifierStub{err: auth.ErrUnauthorized})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"missing authorization"}`, w.Body.String())

	req.Header.Set("Authorization", "Bearer bad")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"invalid token"}`, w.Body.String())
}

func setupLimitedRouter(limiter Limiter) *gin.Engine {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := gin.New()
	router.POST("/messages", func(c *gin.Context) {
		c.Set(UserIDKey, "u1")
		c.Next()
	}, RateLimit(limiter, 10, log), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	return router
}

func TestRateLimitAllowsAndRejects(t *testing.T) {
	limiter := new(mocks.LimiterMock)
	limiter.On("Allow", mock.Anything, "user:u1").Return(true, nil).Once()
	limiter.On("Allow", mock.Anything, "user:u1").Return(false, nil).Once()
	router := setupLimitedRouter(limiter)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/messages", nil))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/messages", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	limiter.AssertExpectations(t)
}

func TestRateLimitFailsOpen(t *testing.T) {
	limiter := new(mocks.LimiterMock)
	limiter.On("Allow", mock.Anything, "user:u1").Return(false, errors.New("redis down"))
	router := setupLimitedRouter(limiter)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/messages", nil))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestRequestIDIsGeneratedAndEchoed(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, c.GetHeader(requestIDHeader)) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	assert.Equal(t, w.Header().Get(requestIDHeader), w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(requestIDHeader, "fixed")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "fixed", w.Header().Get(requestIDHeader))
}

func setupCORSRouter(origins []string) *gin.Engine {
	router := gin.New()
	router.Use(CORS(origins))
	router.GET("/conversations", func(c *gin.Context) { c.JSON(http.StatusOK, []string{}) })
	return router
}

func preflight(router *gin.Engine, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "/conversations", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	router := setupCORSRouter([]string{"https://app.example.com", "not-an-origin"})

	rec := preflight(router, "https://app.example.com")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRejectsOtherOrigin(t *testing.T) {
	router := setupCORSRouter([]string{"https://app.example.com"})

	rec := preflight(router, "https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcard(t *testing.T) {
	router := setupCORSRouter([]string{"*"})

	rec := preflight(router, "https://anywhere.example.com")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWithoutUsableOriginsIsPassThrough(t *testing.T) {
	router := setupCORSRouter([]string{"garbage"})

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
