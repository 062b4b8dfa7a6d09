package models

import (
	"time"

	"github.com/google/uuid"
)

// ContestStatus is the derived phase of a contest. It is computed from the
// contest's timing fields and the persisted freeze/end flags, never stored.
type ContestStatus string

const (
	ContestStatusNotStarted ContestStatus = "not_started"
	ContestStatusRunning    ContestStatus = "running"
	ContestStatusFrozen     ContestStatus = "frozen"
	ContestStatusEnded      ContestStatus = "ended"
)

// Contest represents a timed programming contest. Only is_frozen, frozen_at
// and ended_at record lifecycle transitions; everything else about the phase
// is derived from start_time plus the duration fields.
type Contest struct {
	ID                uuid.UUID  `json:"id"`
	Slug              string     `json:"slug"`
	Name              string     `json:"name"`
	OwnerID           uuid.UUID  `json:"owner_id"`
	StartTime         time.Time  `json:"start_time"`
	DurationMinutes   int        `json:"duration_minutes"`
	FreezeTimeMinutes int        `json:"freeze_time_minutes"`
	IsFrozen          bool       `json:"is_frozen"`
	FrozenAt          *time.Time `json:"frozen_at,omitempty"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
