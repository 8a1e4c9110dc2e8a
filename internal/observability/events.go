package observability

import (
	"context"
	"sync"
	"time"
)

// Routing keys for domain events on the topic exchange.
const (
	RoutingWSConnect      = "ws_events.connect"
	RoutingWSDisconnect   = "ws_events.disconnect"
	RoutingMessageCreated = "chat.message.created"
	RoutingMessageRead    = "chat.message.read"
)

// Publisher delivers JSON events to a broker.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error
}

type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

var (
	publisherMu      sync.RWMutex
	defaultPublisher Publisher
)

// SetPublisher installs the process-wide event publisher. Nil disables publishing.
func SetPublisher(publisher Publisher) {
	publisherMu.Lock()
	defaultPublisher = publisher
	publisherMu.Unlock()
}

// PublishEvent sends envelope on routingKey through the installed publisher.
func PublishEvent(ctx context.Context, routingKey string, envelope EventEnvelope, headers map[string]string) error {
	publisherMu.RLock()
	publisher := defaultPublisher
	publisherMu.RUnlock()
	if publisher == nil {
		return nil
	}

	if envelope.OccurredAt.IsZero() {
		envelope.OccurredAt = time.Now().UTC()
	}
	err := publisher.PublishJSON(ctx, routingKey, envelope, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
