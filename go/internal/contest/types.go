package contest

import (
	"time"

	"github.com/google/uuid"

	"github.com/kshah22/codeclash/go/internal/clock"
	"github.com/kshah22/codeclash/go/internal/models"
)

// CreateContestRequest represents a request to create a new contest.
// The owner comes from the authenticated admin, not from the body.
type CreateContestRequest struct {
	Name              string    `json:"name"`
	StartTime         time.Time `json:"start_time"`
	DurationMinutes   int       `json:"duration_minutes"`
	FreezeTimeMinutes int       `json:"freeze_time_minutes"`
}

// EventRecord couples a transition's domain event to the transaction that
// persists the transition.
type EventRecord struct {
	Type    string
	Payload []byte
}

// DerivedStatus mirrors the Clock output plus the persisted freeze and
// end flags.
type DerivedStatus struct {
	ContestID uuid.UUID `json:"contest_id"`
	clock.Snapshot
	IsFrozen bool       `json:"is_frozen"`
	FrozenAt *time.Time `json:"frozen_at,omitempty"`
	EndedAt  *time.Time `json:"ended_at,omitempty"`
}

// ContestResponse is the HTTP shape for contest reads and transitions.
type ContestResponse struct {
	Contest *models.Contest `json:"contest"`
	Status  clock.Snapshot  `json:"status"`
}
