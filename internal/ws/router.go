package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chat-realtime/internal/chat"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/repositories"
)

var (
	// errDropped marks an event discarded without acknowledgement.
	errDropped     = errors.New("event dropped")
	errRateLimited = errors.New("rate limited")
)

// ChatService is the persistence surface the router needs.
type ChatService interface {
	Authorize(ctx context.Context, conversationID, userID string) (models.Conversation, error)
	SendMessage(ctx context.Context, senderID, conversationID, text string) (models.Message, error)
	MarkRead(ctx context.Context, readerID, conversationID string, messageIDs []string) (int64, error)
}

// Router decodes inbound frames and runs the chat protocol for them.
type Router struct {
	hub     *Hub
	chat    ChatService
	log     *slog.Logger
	timeout time.Duration
}

// NewRouter builds a Router. timeout bounds the store work of a single event.
func NewRouter(hub *Hub, chat ChatService, log *slog.Logger, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Router{hub: hub, chat: chat, log: log, timeout: timeout}
}

// Dispatch handles one inbound frame from c.
func (r *Router) Dispatch(c *Client, data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		observability.IncWSEvent("invalid", "dropped")
		r.log.Debug("dropping malformed frame", "conn_id", c.info.ConnID, "user_id", c.info.UserID)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			observability.IncWSEvent(env.Event, "panic")
			r.log.Error("live event handler panicked",
				"event", env.Event, "conn_id", c.info.ConnID, "user_id", c.info.UserID, "panic", rec)
		}
	}()

	// detached from the connection so a disconnect does not abort a write in flight
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	ctx, span := otel.Tracer("chat-realtime/ws").Start(ctx, "ws.event",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("ws.event", env.Event),
			attribute.String("ws.conn_id", c.info.ConnID),
			attribute.String("user.id", c.info.UserID),
		),
	)
	defer span.End()

	var err error
	switch env.Event {
	case models.EventJoin:
		err = r.join(ctx, c, env.Data)
	case models.EventTyping:
		err = r.typing(c, env.Data)
	case models.EventSend:
		err = r.send(ctx, c, env.Data)
	case models.EventRead:
		err = r.read(ctx, c, env.Data)
	default:
		observability.IncWSEvent("unknown", "ignored")
		return
	}

	switch {
	case err == nil:
		observability.IncWSEvent(env.Event, "ok")
	case errors.Is(err, errDropped):
		observability.IncWSEvent(env.Event, "dropped")
		r.log.Debug("live event dropped", "event", env.Event, "conn_id", c.info.ConnID, "reason", err)
	default:
		observability.IncWSEvent(env.Event, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Warn("live event failed",
			"event", env.Event, "conn_id", c.info.ConnID, "user_id", c.info.UserID, "error", err)
		r.ack(c, env.Event, err)
	}
}

func (r *Router) join(ctx context.Context, c *Client, data json.RawMessage) error {
	var p models.JoinPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.ConversationID == "" {
		return fmt.Errorf("%w: empty conversationId", errDropped)
	}
	if _, err := r.chat.Authorize(ctx, p.ConversationID, c.info.UserID); err != nil {
		return err
	}
	r.hub.Join(c, ConvRoom(p.ConversationID))
	return nil
}

func (r *Router) typing(c *Client, data json.RawMessage) error {
	var p models.TypingPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	room := ConvRoom(p.ConversationID)
	if p.ConversationID == "" || !r.hub.InRoom(c, room) {
		return fmt.Errorf("%w: typing outside a joined conversation", errDropped)
	}
	env, err := models.NewEnvelope(models.EventTyping, models.TypingNotice{
		UserID:   c.info.UserID,
		IsTyping: p.IsTyping,
	})
	if err != nil {
		return err
	}
	r.hub.Broadcast(room, env, c)
	return nil
}

func (r *Router) send(ctx context.Context, c *Client, data json.RawMessage) error {
	var p models.SendPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.ConversationID == "" || p.Text == "" {
		return fmt.Errorf("%w: empty conversationId or text", errDropped)
	}

	msg, err := r.chat.SendMessage(ctx, c.info.UserID, p.ConversationID, p.Text)
	if err != nil {
		return err
	}

	env, err := models.NewEnvelope(models.EventMessage, msg)
	if err != nil {
		return err
	}
	r.hub.Broadcast(ConvRoom(p.ConversationID), env, nil)

	_ = observability.PublishEvent(ctx, observability.RoutingMessageCreated, observability.EventEnvelope{
		EventType: "chat",
		EventName: "message_created",
		Payload: map[string]interface{}{
			"message_id":      msg.ID,
			"conversation_id": msg.ConversationID,
			"sender_id":       msg.SenderID,
			"created_at":      msg.CreatedAt,
		},
	}, observability.BuildHeaders(c.info.RequestID, c.info.TraceID))
	return nil
}

func (r *Router) read(ctx context.Context, c *Client, data json.RawMessage) error {
	var p models.ReadPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.ConversationID == "" {
		return fmt.Errorf("%w: empty conversationId", errDropped)
	}
	if p.MessageIDs == nil {
		p.MessageIDs = []string{}
	}

	changed, err := r.chat.MarkRead(ctx, c.info.UserID, p.ConversationID, p.MessageIDs)
	if err != nil {
		return err
	}

	env, err := models.NewEnvelope(models.EventRead, p)
	if err != nil {
		return err
	}
	r.hub.Broadcast(ConvRoom(p.ConversationID), env, nil)

	_ = observability.PublishEvent(ctx, observability.RoutingMessageRead, observability.EventEnvelope{
		EventType: "chat",
		EventName: "message_read",
		Payload: map[string]interface{}{
			"conversation_id": p.ConversationID,
			"reader_id":       c.info.UserID,
			"message_ids":     p.MessageIDs,
			"changed":         changed,
		},
	}, observability.BuildHeaders(c.info.RequestID, c.info.TraceID))
	return nil
}

func (r *Router) ack(c *Client, event string, err error) {
	env, encErr := models.NewEnvelope(models.EventError, models.ErrorNotice{
		Event: event,
		Error: ackMessage(err),
	})
	if encErr != nil {
		return
	}
	r.hub.SendTo(c, env)
}

func ackMessage(err error) string {
	switch {
	case errors.Is(err, repositories.ErrConversationNotFound):
		return "conversation not found"
	case errors.Is(err, chat.ErrForbidden):
		return "not a conversation member"
	case errors.Is(err, chat.ErrValidation), errors.Is(err, errBadPayload):
		return "invalid payload"
	case errors.Is(err, repositories.ErrStoreUnavailable):
		return "store unavailable"
	case errors.Is(err, errRateLimited):
		return "rate limited"
	default:
		return "internal error"
	}
}

var errBadPayload = errors.New("bad payload")

func decode(data json.RawMessage, into any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return nil
}

// Throttle rejects a frame that exceeded the connection's event budget. The
// sender gets a chat:error so a dropped send is never silent.
func (r *Router) Throttle(c *Client, data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		observability.IncWSEvent("invalid", "rate_limited")
		return
	}
	observability.IncWSEvent(env.Event, "rate_limited")
	r.log.Warn("live event rate limited", "event", env.Event, "conn_id", c.info.ConnID, "user_id", c.info.UserID)
	r.ack(c, env.Event, errRateLimited)
}
