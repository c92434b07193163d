package events

import (
	"context"

	"github.com/google/uuid"
)

// Event types
const (
	EventContractChanged = "contract_changed"
	EventNotification    = "notification"
	EventEmail           = "email"
)

// Streams
const (
	StreamContracts = "events:contract"
	StreamEmail     = "events:email"
)

// UserStream is the per-user channel the WebSocket hub forwards to clients.
func UserStream(userID uuid.UUID) string {
	return "events:user:" + userID.String()
}

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
	PSubscribe(ctx context.Context, pattern string, handler func(stream string, e Event)) error
}
