package models

import (
	"time"

	"github.com/google/uuid"
)

// StandingsRow is a per-team aggregate over the team's best judged
// submission per problem. Rebuilt on every recompute, never mutated.
type StandingsRow struct {
	Rank               int       `json:"rank"`
	TeamID             uuid.UUID `json:"team_id"`
	TeamName           string    `json:"team_name"`
	ProblemsSolved     int       `json:"problems_solved"`
	TotalPoints        int       `json:"total_points"`
	LastSubmissionTime time.Time `json:"last_submission_time"`
}

// StandingsTable is one consistent snapshot of a contest's ranking.
type StandingsTable struct {
	ContestID  uuid.UUID      `json:"contest_id"`
	Rows       []StandingsRow `json:"rows"`
	IsFrozen   bool           `json:"is_frozen"`
	LastUpdate time.Time      `json:"last_update"`
}
