package submission

import (
	"github.com/google/uuid"
)

// CreateSubmissionRequest represents a team's request to submit a solution.
// The team comes from the authenticated token, the contest from the URL.
type CreateSubmissionRequest struct {
	ProblemID  uuid.UUID `json:"problem_id"`
	Language   string    `json:"language"`
	SourceCode string    `json:"source_code"`
}

// EventRecord couples a submission write to the event persisted in the
// same transaction.
type EventRecord struct {
	Type    string
	Payload []byte
}

// JudgeJob is the self-contained payload pushed onto the judge queue.
// External judges pop jobs, run the code against the problem's test cases
// and report verdicts back over the webhook or the results stream.
type JudgeJob struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	ContestID    uuid.UUID `json:"contest_id"`
	ProblemID    uuid.UUID `json:"problem_id"`
	Language     string    `json:"language"`
	SourceCode   string    `json:"source_code"`
}
