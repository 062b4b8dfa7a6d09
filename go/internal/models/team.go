package models

import (
	"time"

	"github.com/google/uuid"
)

// Team represents a registered contest team.
type Team struct {
	ID        uuid.UUID `json:"id"`
	ContestID uuid.UUID `json:"contest_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
