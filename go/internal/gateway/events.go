package gateway

import (
	"encoding/json"
	"time"

	"github.com/kshah22/codeclash/go/internal/models"
)

// ContestEvent is the frame sent to websocket clients. ContestID is empty
// on connection-scoped acks.
type ContestEvent struct {
	ID        string          `json:"id"`
	ContestID string          `json:"contest_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType represents the type of websocket event
type EventType string

const (
	// Domain events fanned out to contest rooms.
	EventTypeLeaderboardUpdate EventType = "leaderboardUpdate"
	EventTypeSubmissionUpdate  EventType = "submissionUpdate"
	EventTypeContestStarted    EventType = "contestStarted"
	EventTypeContestFrozen     EventType = "contestFrozen"
	EventTypeContestEnded      EventType = "contestEnded"
	EventTypeTimeWarning       EventType = "timeWarning"

	// Connection-scoped acknowledgements.
	EventTypeConnected     EventType = "connected"
	EventTypeJoined        EventType = "joined"
	EventTypeLeft          EventType = "left"
	EventTypeAuthenticated EventType = "authenticated"
	EventTypeError         EventType = "error"
)

// LeaderboardUpdateData carries a full standings table.
type LeaderboardUpdateData struct {
	ContestID  string                `json:"contestId"`
	Teams      []models.StandingsRow `json:"teams"`
	IsFrozen   bool                  `json:"isFrozen"`
	LastUpdate time.Time             `json:"lastUpdate"`
}

// SubmissionUpdateData carries a submission status change. Verdict and the
// runtime fields are only present once judged.
type SubmissionUpdateData struct {
	SubmissionID  string `json:"submissionId"`
	TeamID        string `json:"teamId"`
	ProblemID     string `json:"problemId"`
	Status        string `json:"status"`
	Verdict       string `json:"verdict,omitempty"`
	ExecutionTime *int   `json:"executionTime,omitempty"`
	MemoryUsed    *int   `json:"memoryUsed,omitempty"`
}

// LifecycleData is shared by contestStarted, contestFrozen and contestEnded.
type LifecycleData struct {
	ContestID string    `json:"contestId"`
	Timestamp time.Time `json:"timestamp"`
}

// TimeWarningData announces remaining contest time.
type TimeWarningData struct {
	TimeRemaining int    `json:"timeRemaining"`
	Message       string `json:"message"`
}

// ConnectedData acknowledges a successful upgrade.
type ConnectedData struct {
	ConnectionID string `json:"connectionId"`
}

// JoinedData / LeftData acknowledge room membership changes.
type JoinedData struct {
	ContestID string `json:"contestId"`
}

type LeftData struct {
	ContestID string `json:"contestId"`
}

// AuthenticatedData acknowledges a successful authentication.
type AuthenticatedData struct {
	Role string `json:"role"`
}

// ErrorData reports a rejected client message.
type ErrorData struct {
	Message string `json:"message"`
}

// Client message types.
const (
	ClientMsgJoinContest        = "join_contest"
	ClientMsgLeaveContest       = "leave_contest"
	ClientMsgAuthenticateTeam   = "authenticate_team"
	ClientMsgAuthenticateAdmin  = "authenticate_admin"
	ClientMsgRequestLeaderboard = "request_leaderboard"
)

// ClientMessage is the frame received from websocket clients.
type ClientMessage struct {
	Type      string `json:"type"`
	ContestID string `json:"contestId,omitempty"`
	Token     string `json:"token,omitempty"`
}
