package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stream and subject layout for the contest event bus.
const (
	ContestStreamName    = "CONTEST_EVENTS"
	ContestSubjectPrefix = "contest.events"
	ContestSubjectFilter = ContestSubjectPrefix + ".>"

	JudgeStreamName    = "JUDGE_RESULTS"
	JudgeSubjectPrefix = "judge.results"
	JudgeSubjectFilter = JudgeSubjectPrefix + ".>"
)

// Domain event types carried in the envelope and appended to the subject
// prefix, e.g. contest.events.ContestStarted.
const (
	TypeContestCreated     = "ContestCreated"
	TypeContestStarted     = "ContestStarted"
	TypeContestFrozen      = "ContestFrozen"
	TypeContestUnfrozen    = "ContestUnfrozen"
	TypeContestEnded       = "ContestEnded"
	TypeTimeWarning        = "TimeWarning"
	TypeSubmissionCreated  = "SubmissionCreated"
	TypeSubmissionJudged   = "SubmissionJudged"
	TypeLeaderboardUpdated = "LeaderboardUpdated"
)

// ContestSubject returns the subject an event type is published on.
func ContestSubject(eventType string) string {
	return fmt.Sprintf("%s.%s", ContestSubjectPrefix, eventType)
}

// Envelope is the wire frame for every message on the contest stream.
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	ContestID string          `json:"contestId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}
