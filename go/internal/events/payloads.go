package events

import (
	"time"

	"github.com/kshah22/codeclash/go/internal/models"
)

// Event payload types shared between the lifecycle, scoring, standings and
// gateway packages.

// ContestCreatedPayload is the payload for a ContestCreated event.
type ContestCreatedPayload struct {
	ContestID string    `json:"contest_id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ContestStartedPayload is the payload for a ContestStarted event.
type ContestStartedPayload struct {
	ContestID       string    `json:"contest_id"`
	StartedAt       time.Time `json:"started_at"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
}

// ContestFrozenPayload is the payload for a ContestFrozen event.
type ContestFrozenPayload struct {
	ContestID string    `json:"contest_id"`
	FrozenAt  time.Time `json:"frozen_at"`
}

// ContestUnfrozenPayload is the payload for a ContestUnfrozen event.
type ContestUnfrozenPayload struct {
	ContestID  string    `json:"contest_id"`
	UnfrozenAt time.Time `json:"unfrozen_at"`
}

// ContestEndedPayload is the payload for a ContestEnded event.
type ContestEndedPayload struct {
	ContestID string    `json:"contest_id"`
	EndedAt   time.Time `json:"ended_at"`
	Duration  string    `json:"duration"`
}

// TimeWarningPayload is the payload for a TimeWarning event.
type TimeWarningPayload struct {
	ContestID        string `json:"contest_id"`
	TimeRemainingSec int    `json:"time_remaining_sec"`
	Message          string `json:"message"`
}

// SubmissionCreatedPayload is the payload for a SubmissionCreated event.
type SubmissionCreatedPayload struct {
	SubmissionID string    `json:"submission_id"`
	ContestID    string    `json:"contest_id"`
	TeamID       string    `json:"team_id"`
	ProblemID    string    `json:"problem_id"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// SubmissionJudgedPayload is the payload for a SubmissionJudged event.
type SubmissionJudgedPayload struct {
	SubmissionID    string    `json:"submission_id"`
	ContestID       string    `json:"contest_id"`
	TeamID          string    `json:"team_id"`
	ProblemID       string    `json:"problem_id"`
	Status          string    `json:"status"`
	Verdict         string    `json:"verdict"`
	PointsEarned    int       `json:"points_earned"`
	MaxPoints       int       `json:"max_points"`
	Solved          bool      `json:"solved"`
	ExecutionTimeMs *int      `json:"execution_time_ms,omitempty"`
	MemoryKb        *int      `json:"memory_kb,omitempty"`
	JudgedAt        time.Time `json:"judged_at"`
}

// LeaderboardUpdatedPayload is the payload for a LeaderboardUpdated event.
// IsFrozen marks tables recomputed during a freeze; the gateway delivers
// those to admin connections only.
type LeaderboardUpdatedPayload struct {
	ContestID  string                `json:"contest_id"`
	Teams      []models.StandingsRow `json:"teams"`
	IsFrozen   bool                  `json:"is_frozen"`
	LastUpdate time.Time             `json:"last_update"`
}
