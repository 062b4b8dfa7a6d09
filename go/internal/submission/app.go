package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/kshah22/codeclash/go/internal/auth"
	"github.com/kshah22/codeclash/go/internal/clock"
	"github.com/kshah22/codeclash/go/internal/common"
	"github.com/kshah22/codeclash/go/internal/events"
	"github.com/kshah22/codeclash/go/internal/models"
)

// SubmissionRepository defines what the submission app layer needs from
// the submission repository
type SubmissionRepository interface {
	CreateSubmission(ctx context.Context, s *models.Submission, evt EventRecord) (*models.Submission, error)
	GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	GetProblem(ctx context.Context, id uuid.UUID) (*models.Problem, error)
	MarkJudging(ctx context.Context, id uuid.UUID) error
}

// ContestReader loads contests for phase checks.
type ContestReader interface {
	GetContest(ctx context.Context, id uuid.UUID) (*models.Contest, error)
}

// JudgeEnqueuer hands accepted submissions to the judging pipeline.
type JudgeEnqueuer interface {
	Enqueue(ctx context.Context, job JudgeJob) error
}

// App handles submission intake business logic
type App struct {
	repo     SubmissionRepository
	contests ContestReader
	queue    JudgeEnqueuer
	clock    clockwork.Clock
}

// NewApp creates a new submission App
func NewApp(repo SubmissionRepository, contests ContestReader, queue JudgeEnqueuer, clk clockwork.Clock) *App {
	return &App{
		repo:     repo,
		contests: contests,
		queue:    queue,
		clock:    clk,
	}
}

// CreateSubmission accepts a team's solution for judging. The contest must
// be running or frozen, and the problem must belong to the contest.
func (a *App) CreateSubmission(ctx context.Context, actor auth.Actor, contestID uuid.UUID, req CreateSubmissionRequest) (*models.Submission, error) {
	if actor.Role != auth.RoleTeam {
		return nil, common.Errorf("%w: only team accounts can submit", common.ErrAuthentication)
	}

	c, err := a.contests.GetContest(ctx, contestID)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	switch status := clock.Phase(c, now).Status; status {
	case models.ContestStatusRunning, models.ContestStatusFrozen:
	case models.ContestStatusNotStarted:
		return nil, common.Errorf("%w: contest has not started", common.ErrConflict)
	default:
		return nil, common.Errorf("%w: contest has ended", common.ErrConflict)
	}

	var violations []string
	if req.ProblemID == uuid.Nil {
		violations = append(violations, "problem_id is required")
	}
	if req.Language == "" {
		violations = append(violations, "language is required")
	}
	if req.SourceCode == "" {
		violations = append(violations, "source_code is required")
	}
	if err := common.NewValidationError(violations...); err != nil {
		return nil, err
	}

	p, err := a.repo.GetProblem(ctx, req.ProblemID)
	if err != nil {
		return nil, err
	}
	if p.ContestID != contestID {
		return nil, common.Errorf("%w: problem %s does not belong to contest %s", common.ErrNotFound, req.ProblemID, contestID)
	}

	s := &models.Submission{
		ID:          uuid.New(),
		ContestID:   contestID,
		TeamID:      actor.ID,
		ProblemID:   req.ProblemID,
		Language:    req.Language,
		SourceCode:  req.SourceCode,
		Status:      models.SubmissionStatusPending,
		MaxPoints:   p.MaxPoints,
		SubmittedAt: now,
	}

	evt, err := createdEvent(s)
	if err != nil {
		return nil, err
	}

	created, err := a.repo.CreateSubmission(ctx, s, evt)
	if err != nil {
		return nil, err
	}

	job := JudgeJob{
		SubmissionID: created.ID,
		ContestID:    created.ContestID,
		ProblemID:    created.ProblemID,
		Language:     created.Language,
		SourceCode:   created.SourceCode,
	}
	if err := a.queue.Enqueue(ctx, job); err != nil {
		// The submission is durable; it stays pending until requeued.
		log.Printf("Failed to enqueue judge job for submission %s: %v", created.ID, err)
	}

	log.Printf("Submission %s accepted for problem %s by team %s", created.ID, created.ProblemID, created.TeamID)
	return created, nil
}

// GetSubmission returns a submission. Teams read their own; admins read any.
func (a *App) GetSubmission(ctx context.Context, actor auth.Actor, id uuid.UUID) (*models.Submission, error) {
	s, err := a.repo.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.ID != s.TeamID {
		return nil, common.Errorf("%w: submission belongs to another team", common.ErrAuthentication)
	}
	return s, nil
}

// MarkJudging records that a judge picked the submission up.
func (a *App) MarkJudging(ctx context.Context, id uuid.UUID) error {
	return a.repo.MarkJudging(ctx, id)
}

func createdEvent(s *models.Submission) (EventRecord, error) {
	payload := events.SubmissionCreatedPayload{
		SubmissionID: s.ID.String(),
		ContestID:    s.ContestID.String(),
		TeamID:       s.TeamID.String(),
		ProblemID:    s.ProblemID.String(),
		SubmittedAt:  s.SubmittedAt,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return EventRecord{}, fmt.Errorf("failed to marshal %s payload: %w", events.TypeSubmissionCreated, err)
	}
	return EventRecord{Type: events.TypeSubmissionCreated, Payload: data}, nil
}
