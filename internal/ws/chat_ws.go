package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"chat-realtime/internal/config"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// TokenVerifier resolves a bearer token to an identity.
type TokenVerifier interface {
	Verify(raw string) (models.Identity, error)
}

// ChatWebSocketHandler authenticates and upgrades live chat connections.
type ChatWebSocketHandler struct {
	hub      *Hub
	router   *Router
	verifier TokenVerifier
	cfg      config.WSConfig
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(hub *Hub, router *Router, verifier TokenVerifier, cfg config.WSConfig, origins []string, log *slog.Logger) *ChatWebSocketHandler {
	policy := newOriginPolicy(origins, log)
	return &ChatWebSocketHandler{
		hub:      hub,
		router:   router,
		verifier: verifier,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.check,
		},
		log: log,
	}
}

// Handle verifies the token then upgrades and registers the connection.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-realtime/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.Query("token")
	if token == "" {
		token = c.GetHeader("Authorization")
	}
	identity, err := h.verifier.Verify(token)
	if err != nil {
		observability.IncWSEvent("connect", "unauthorized")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	span.SetAttributes(attribute.String("user.id", identity.UserID))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "user_id", identity.UserID, "error", err)
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := newClient(conn, info, h.cfg.SendBuffer, newRateLimiter(h.cfg.EventBurst, h.cfg.EventRefill))
	h.hub.Admit(client)
	h.lifecycle(ctx, info, "ws_connect", observability.RoutingWSConnect, "")

	go client.writePump()
	go h.serve(client)
}

func (h *ChatWebSocketHandler) serve(client *Client) {
	err := client.readPump(h.cfg.MaxMessageSize, h.router.Dispatch, h.router.Throttle)
	h.hub.LeaveAll(client)
	client.close()

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		h.log.Debug("websocket closed unexpectedly", "conn_id", client.info.ConnID, "error", err)
	}
	h.lifecycle(context.Background(), client.info, "ws_disconnect", observability.RoutingWSDisconnect, reason)
}

func (h *ChatWebSocketHandler) lifecycle(ctx context.Context, info ConnInfo, event, routingKey, reason string) {
	var duration int64
	if event == "ws_disconnect" {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	h.log.Info("websocket lifecycle", "event", event, "conn_id", info.ConnID, "user_id", info.UserID, "duration_ms", duration, "reason", reason)

	_ = observability.PublishEvent(ctx, routingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": info.identity(),
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
