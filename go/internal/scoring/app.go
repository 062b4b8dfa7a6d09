package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/kshah22/codeclash/go/internal/common"
	"github.com/kshah22/codeclash/go/internal/events"
	"github.com/kshah22/codeclash/go/internal/models"
	"github.com/kshah22/codeclash/go/internal/submission"
)

// SubmissionStore defines what the scoring app needs from the submission
// repository
type SubmissionStore interface {
	GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	TestCaseWeights(ctx context.Context, problemID uuid.UUID) (map[uuid.UUID]int, error)
	UpdateJudged(ctx context.Context, s *models.Submission, evt submission.EventRecord) (*models.Submission, error)
	MarkJudging(ctx context.Context, id uuid.UUID) error
}

// App turns judge verdicts into persisted scores
type App struct {
	subs  SubmissionStore
	clock clockwork.Clock
}

// NewApp creates a new scoring App
func NewApp(subs SubmissionStore, clk clockwork.Clock) *App {
	return &App{
		subs:  subs,
		clock: clk,
	}
}

// ProcessResult applies a judge report to a submission. Reports for an
// already judged submission are acknowledged without a rewrite, so a
// redelivered verdict cannot change a score.
func (a *App) ProcessResult(ctx context.Context, payload VerdictPayload) error {
	if payload.SubmissionID == uuid.Nil {
		return common.NewValidationError("submission_id is required")
	}

	if payload.Status == models.SubmissionStatusJudging {
		if err := a.subs.MarkJudging(ctx, payload.SubmissionID); err != nil {
			return err
		}
		log.Printf("Submission %s picked up by judge", payload.SubmissionID)
		return nil
	}
	if payload.Status != models.SubmissionStatusJudged {
		return common.NewValidationError(fmt.Sprintf("unknown report status %q", payload.Status))
	}
	if !knownVerdicts[payload.Verdict] {
		return common.NewValidationError(fmt.Sprintf("unknown verdict %q", payload.Verdict))
	}

	s, err := a.subs.GetSubmission(ctx, payload.SubmissionID)
	if err != nil {
		return err
	}
	if s.Status == models.SubmissionStatusJudged {
		log.Printf("Submission %s already judged, ignoring duplicate verdict", s.ID)
		return nil
	}

	weights, err := a.subs.TestCaseWeights(ctx, s.ProblemID)
	if err != nil {
		return err
	}

	verdict := payload.Verdict
	var results []models.TestCaseResult
	var points int
	var solved bool
	if verdict == models.VerdictCompilationError {
		results = FailAll(weights, compileMessage(payload))
	} else {
		results = alignWeights(payload.TestCaseResults, weights)
		points, solved = Score(results, weights, s.MaxPoints)
	}

	now := a.clock.Now()
	s.Status = models.SubmissionStatusJudged
	s.Verdict = &verdict
	s.PointsEarned = points
	s.Solved = solved
	s.TestCaseResults = results
	s.ExecutionTimeMs = payload.ExecutionTimeMs
	s.MemoryKb = payload.MemoryKb
	s.JudgedAt = &now

	evt, err := judgedEvent(s)
	if err != nil {
		return err
	}

	if _, err := a.subs.UpdateJudged(ctx, s, evt); err != nil {
		if errors.Is(err, common.ErrConflict) {
			log.Printf("Submission %s judged concurrently, ignoring duplicate verdict", s.ID)
			return nil
		}
		return err
	}

	log.Printf("Submission %s judged: %s, %d/%d points", s.ID, verdict, points, s.MaxPoints)
	return nil
}

func compileMessage(payload VerdictPayload) string {
	if payload.CompileOutput != nil && *payload.CompileOutput != "" {
		return *payload.CompileOutput
	}
	return "compilation failed"
}

func judgedEvent(s *models.Submission) (submission.EventRecord, error) {
	payload := events.SubmissionJudgedPayload{
		SubmissionID:    s.ID.String(),
		ContestID:       s.ContestID.String(),
		TeamID:          s.TeamID.String(),
		ProblemID:       s.ProblemID.String(),
		Status:          string(s.Status),
		Verdict:         string(*s.Verdict),
		PointsEarned:    s.PointsEarned,
		MaxPoints:       s.MaxPoints,
		Solved:          s.Solved,
		ExecutionTimeMs: s.ExecutionTimeMs,
		MemoryKb:        s.MemoryKb,
		JudgedAt:        *s.JudgedAt,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return submission.EventRecord{}, fmt.Errorf("failed to marshal %s payload: %w", events.TypeSubmissionJudged, err)
	}
	return submission.EventRecord{Type: events.TypeSubmissionJudged, Payload: data}, nil
}
