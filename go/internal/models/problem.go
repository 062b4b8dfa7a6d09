package models

import (
	"time"

	"github.com/google/uuid"
)

// Problem is owned by the problem-management service; this system reads it
// for readiness validation and scoring. MaxPoints is the sum of the
// problem's test case weights, maintained by the owner on test case changes.
type Problem struct {
	ID        uuid.UUID `json:"id"`
	ContestID uuid.UUID `json:"contest_id"`
	Title     string    `json:"title"`
	MaxPoints int       `json:"max_points"`
	CreatedAt time.Time `json:"created_at"`
}

// TestCase carries the scoring weight for one of a problem's test cases.
type TestCase struct {
	ID        uuid.UUID `json:"id"`
	ProblemID uuid.UUID `json:"problem_id"`
	Weight    int       `json:"weight"`
}
