package models

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus tracks the write-once judging transition
// pending -> judging -> judged.
type SubmissionStatus string

const (
	SubmissionStatusPending SubmissionStatus = "pending"
	SubmissionStatusJudging SubmissionStatus = "judging"
	SubmissionStatusJudged  SubmissionStatus = "judged"
)

// Verdict is the judge's overall outcome for a submission.
type Verdict string

const (
	VerdictAccepted            Verdict = "Accepted"
	VerdictWrongAnswer         Verdict = "WrongAnswer"
	VerdictTimeLimitExceeded   Verdict = "TimeLimitExceeded"
	VerdictMemoryLimitExceeded Verdict = "MemoryLimitExceeded"
	VerdictCompilationError    Verdict = "CompilationError"
	VerdictRuntimeError        Verdict = "RuntimeError"
	VerdictSystemError         Verdict = "SystemError"
)

// Submission represents one team's attempt at a problem. Judged fields
// (verdict, points, results) are filled in exactly once.
type Submission struct {
	ID              uuid.UUID        `json:"id"`
	ContestID       uuid.UUID        `json:"contest_id"`
	TeamID          uuid.UUID        `json:"team_id"`
	ProblemID       uuid.UUID        `json:"problem_id"`
	Language        string           `json:"language"`
	SourceCode      string           `json:"source_code,omitempty"`
	Status          SubmissionStatus `json:"status"`
	Verdict         *Verdict         `json:"verdict,omitempty"`
	PointsEarned    int              `json:"points_earned"`
	MaxPoints       int              `json:"max_points"`
	Solved          bool             `json:"solved"`
	TestCaseResults []TestCaseResult `json:"test_case_results,omitempty"`
	ExecutionTimeMs *int             `json:"execution_time_ms,omitempty"`
	MemoryKb        *int             `json:"memory_kb,omitempty"`
	SubmittedAt     time.Time        `json:"submitted_at"`
	JudgedAt        *time.Time       `json:"judged_at,omitempty"`
}

// TestCaseResult is the judge's outcome for one test case, matched back to
// the problem's test cases by TestCaseID rather than position.
type TestCaseResult struct {
	TestCaseID      uuid.UUID `json:"test_case_id"`
	Passed          bool      `json:"passed"`
	Weight          int       `json:"weight"`
	ExecutionTimeMs *int      `json:"execution_time_ms,omitempty"`
	MemoryKb        *int      `json:"memory_kb,omitempty"`
	Error           *string   `json:"error,omitempty"`
}
