package contest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"

	"github.com/kshah22/codeclash/go/internal/auth"
	"github.com/kshah22/codeclash/go/internal/clock"
	"github.com/kshah22/codeclash/go/internal/common"
	"github.com/kshah22/codeclash/go/internal/events"
	"github.com/kshah22/codeclash/go/internal/models"
)

// ContestRepository defines what the contest app layer needs from the
// contest repository. Transition methods persist the row change and the
// transition's event atomically.
type ContestRepository interface {
	CreateContest(ctx context.Context, c *models.Contest, evt EventRecord) (*models.Contest, error)
	GetContest(ctx context.Context, id uuid.UUID) (*models.Contest, error)
	ListContests(ctx context.Context) ([]models.Contest, error)
	StartContest(ctx context.Context, id uuid.UUID, startTime time.Time, evt EventRecord) (*models.Contest, error)
	FreezeContest(ctx context.Context, id uuid.UUID, frozenAt time.Time, evt EventRecord) (*models.Contest, error)
	UnfreezeContest(ctx context.Context, id uuid.UUID, evt EventRecord) (*models.Contest, error)
	EndContest(ctx context.Context, id uuid.UUID, durationMinutes int, endedAt time.Time, evt EventRecord) (*models.Contest, error)
	CountProblems(ctx context.Context, contestID uuid.UUID) (int, error)
	ListProblemsWithoutTestCases(ctx context.Context, contestID uuid.UUID) ([]models.Problem, error)
}

// App handles contest lifecycle business logic. Transitions on the same
// contest are serialized through a per-contest lock so concurrent freeze
// and end requests cannot both observe the pre-transition state.
type App struct {
	repo  ContestRepository
	clock clockwork.Clock

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewApp creates a new contest App
func NewApp(repo ContestRepository, clk clockwork.Clock) *App {
	return &App{
		repo:  repo,
		clock: clk,
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (a *App) contestLock(id uuid.UUID) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[id] = lock
	}
	return lock
}

// CreateContest creates a new contest owned by the calling admin.
func (a *App) CreateContest(ctx context.Context, actor auth.Actor, req CreateContestRequest) (*models.Contest, error) {
	var violations []string
	if req.Name == "" {
		violations = append(violations, "name is required")
	}
	if req.StartTime.IsZero() {
		violations = append(violations, "start_time is required")
	}
	if req.DurationMinutes <= 0 {
		violations = append(violations, "duration_minutes must be positive")
	}
	if req.FreezeTimeMinutes < 0 {
		violations = append(violations, "freeze_time_minutes must not be negative")
	}
	if req.FreezeTimeMinutes > req.DurationMinutes {
		violations = append(violations, "freeze_time_minutes must not exceed duration_minutes")
	}
	if err := common.NewValidationError(violations...); err != nil {
		return nil, err
	}

	c := &models.Contest{
		ID:                uuid.New(),
		Slug:              slug.Make(req.Name),
		Name:              req.Name,
		OwnerID:           actor.ID,
		StartTime:         req.StartTime.UTC(),
		DurationMinutes:   req.DurationMinutes,
		FreezeTimeMinutes: req.FreezeTimeMinutes,
	}

	evt, err := createdEvent(c, a.clock.Now())
	if err != nil {
		return nil, err
	}

	created, err := a.repo.CreateContest(ctx, c, evt)
	if err != nil {
		return nil, err
	}

	log.Printf("Created contest %s (%s) owned by %s", created.Name, created.ID, actor.ID)
	return created, nil
}

// GetContest retrieves a contest by ID
func (a *App) GetContest(ctx context.Context, id uuid.UUID) (*models.Contest, error) {
	return a.repo.GetContest(ctx, id)
}

// ListContests retrieves all contests
func (a *App) ListContests(ctx context.Context) ([]models.Contest, error) {
	return a.repo.ListContests(ctx)
}

// Describe derives the current phase and timing fields for a contest.
func (a *App) Describe(c *models.Contest) DerivedStatus {
	return DerivedStatus{
		ContestID: c.ID,
		Snapshot:  clock.Phase(c, a.clock.Now()),
		IsFrozen:  c.IsFrozen,
		FrozenAt:  c.FrozenAt,
		EndedAt:   c.EndedAt,
	}
}

// StartContest transitions a contest from not_started to running. The
// recorded start time is "now", which fast-forwards a scheduled future
// start. Readiness violations are collected so the caller sees the full
// list in one response.
func (a *App) StartContest(ctx context.Context, actor auth.Actor, id uuid.UUID) (*models.Contest, error) {
	lock := a.contestLock(id)
	lock.Lock()
	defer lock.Unlock()

	c, err := a.repo.GetContest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(actor, c); err != nil {
		return nil, err
	}

	now := a.clock.Now()
	if status := clock.Phase(c, now).Status; status != models.ContestStatusNotStarted {
		return nil, common.Errorf("%w: cannot start contest in status %q", common.ErrConflict, status)
	}

	if err := a.checkReadiness(ctx, id); err != nil {
		return nil, err
	}

	evt, err := startedEvent(c, now)
	if err != nil {
		return nil, err
	}

	updated, err := a.repo.StartContest(ctx, id, now, evt)
	if err != nil {
		return nil, err
	}

	log.Printf("Contest %s started at %s", id, now.Format(time.RFC3339))
	return updated, nil
}

// checkReadiness verifies the contest has at least one problem and every
// problem has at least one test case. All violations are reported, not
// just the first.
func (a *App) checkReadiness(ctx context.Context, id uuid.UUID) error {
	var violations []string

	count, err := a.repo.CountProblems(ctx, id)
	if err != nil {
		return err
	}
	if count == 0 {
		violations = append(violations, "contest has no problems")
	}

	missing, err := a.repo.ListProblemsWithoutTestCases(ctx, id)
	if err != nil {
		return err
	}
	for _, p := range missing {
		violations = append(violations, fmt.Sprintf("problem %q has no test cases", p.Title))
	}

	return common.NewValidationError(violations...)
}

// FreezeContest marks a running contest frozen.
func (a *App) FreezeContest(ctx context.Context, actor auth.Actor, id uuid.UUID) (*models.Contest, error) {
	lock := a.contestLock(id)
	lock.Lock()
	defer lock.Unlock()

	c, err := a.repo.GetContest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(actor, c); err != nil {
		return nil, err
	}

	now := a.clock.Now()
	switch status := clock.Phase(c, now).Status; status {
	case models.ContestStatusRunning:
	case models.ContestStatusFrozen:
		return nil, common.Errorf("%w: contest is already frozen", common.ErrConflict)
	case models.ContestStatusNotStarted:
		return nil, common.Errorf("%w: contest has not started", common.ErrConflict)
	default:
		return nil, common.Errorf("%w: contest has already ended", common.ErrConflict)
	}

	evt, err := frozenEvent(c, now)
	if err != nil {
		return nil, err
	}

	updated, err := a.repo.FreezeContest(ctx, id, now, evt)
	if err != nil {
		return nil, err
	}

	log.Printf("Contest %s frozen at %s", id, now.Format(time.RFC3339))
	return updated, nil
}

// UnfreezeContest clears the freeze flag. The only precondition is that
// the contest is currently frozen; unfreezing after the end time is
// allowed so an admin can reveal final standings.
func (a *App) UnfreezeContest(ctx context.Context, actor auth.Actor, id uuid.UUID) (*models.Contest, error) {
	lock := a.contestLock(id)
	lock.Lock()
	defer lock.Unlock()

	c, err := a.repo.GetContest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(actor, c); err != nil {
		return nil, err
	}

	if !c.IsFrozen {
		return nil, common.Errorf("%w: contest is not frozen", common.ErrConflict)
	}

	evt, err := unfrozenEvent(c, a.clock.Now())
	if err != nil {
		return nil, err
	}

	updated, err := a.repo.UnfreezeContest(ctx, id, evt)
	if err != nil {
		return nil, err
	}

	log.Printf("Contest %s unfrozen", id)
	return updated, nil
}

// EndContest ends a running or frozen contest early by truncating
// duration_minutes to the elapsed whole minutes, so the phase derivation
// reports ended from this point on.
func (a *App) EndContest(ctx context.Context, actor auth.Actor, id uuid.UUID) (*models.Contest, error) {
	lock := a.contestLock(id)
	lock.Lock()
	defer lock.Unlock()

	c, err := a.repo.GetContest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(actor, c); err != nil {
		return nil, err
	}

	now := a.clock.Now()
	switch status := clock.Phase(c, now).Status; status {
	case models.ContestStatusRunning, models.ContestStatusFrozen:
	case models.ContestStatusNotStarted:
		return nil, common.Errorf("%w: contest has not started", common.ErrConflict)
	default:
		return nil, common.Errorf("%w: contest has already ended", common.ErrConflict)
	}

	elapsedMinutes := int(now.Sub(c.StartTime) / time.Minute)

	evt, err := endedEvent(c, now, elapsedMinutes)
	if err != nil {
		return nil, err
	}

	updated, err := a.repo.EndContest(ctx, id, elapsedMinutes, now, evt)
	if err != nil {
		return nil, err
	}

	log.Printf("Contest %s ended after %d minutes", id, elapsedMinutes)
	return updated, nil
}

func requireOwner(actor auth.Actor, c *models.Contest) error {
	if !actor.IsAdmin() || actor.ID != c.OwnerID {
		return common.Errorf("%w: caller is not the contest owner", common.ErrAuthentication)
	}
	return nil
}

func createdEvent(c *models.Contest, now time.Time) (EventRecord, error) {
	return marshalEvent(events.TypeContestCreated, events.ContestCreatedPayload{
		ContestID: c.ID.String(),
		Slug:      c.Slug,
		Name:      c.Name,
		CreatedAt: now,
	})
}

func startedEvent(c *models.Contest, startedAt time.Time) (EventRecord, error) {
	return marshalEvent(events.TypeContestStarted, events.ContestStartedPayload{
		ContestID:       c.ID.String(),
		StartedAt:       startedAt,
		EndTime:         startedAt.Add(time.Duration(c.DurationMinutes) * time.Minute),
		DurationMinutes: c.DurationMinutes,
	})
}

func frozenEvent(c *models.Contest, frozenAt time.Time) (EventRecord, error) {
	return marshalEvent(events.TypeContestFrozen, events.ContestFrozenPayload{
		ContestID: c.ID.String(),
		FrozenAt:  frozenAt,
	})
}

func unfrozenEvent(c *models.Contest, unfrozenAt time.Time) (EventRecord, error) {
	return marshalEvent(events.TypeContestUnfrozen, events.ContestUnfrozenPayload{
		ContestID:  c.ID.String(),
		UnfrozenAt: unfrozenAt,
	})
}

func endedEvent(c *models.Contest, endedAt time.Time, durationMinutes int) (EventRecord, error) {
	return marshalEvent(events.TypeContestEnded, events.ContestEndedPayload{
		ContestID: c.ID.String(),
		EndedAt:   endedAt,
		Duration:  (time.Duration(durationMinutes) * time.Minute).String(),
	})
}

func marshalEvent(eventType string, payload interface{}) (EventRecord, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return EventRecord{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return EventRecord{Type: eventType, Payload: data}, nil
}
