package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxEvent is a domain event staged in the same transaction as the
// state change that produced it, published to the event bus afterwards.
type OutboxEvent struct {
	ID        uuid.UUID       `json:"id"`
	ContestID uuid.UUID       `json:"contest_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// Publisher delivers staged events to the event bus.
type Publisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
}
