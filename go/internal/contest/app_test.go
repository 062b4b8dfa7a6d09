package contest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/kshah22/codeclash/go/internal/auth"
	"github.com/kshah22/codeclash/go/internal/common"
	"github.com/kshah22/codeclash/go/internal/models"
)

type fakeContestRepo struct {
	mu              sync.Mutex
	contests        map[uuid.UUID]*models.Contest
	problemCount    map[uuid.UUID]int
	missingCases    map[uuid.UUID][]models.Problem
	recordedEvents  []EventRecord
	transitionCalls int
}

func newFakeContestRepo() *fakeContestRepo {
	return &fakeContestRepo{
		contests:     make(map[uuid.UUID]*models.Contest),
		problemCount: make(map[uuid.UUID]int),
		missingCases: make(map[uuid.UUID][]models.Problem),
	}
}

func (f *fakeContestRepo) put(c *models.Contest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.contests[c.ID] = &cp
}

func (f *fakeContestRepo) CreateContest(ctx context.Context, c *models.Contest, evt EventRecord) (*models.Contest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	f.contests[c.ID] = &cp
	f.recordedEvents = append(f.recordedEvents, evt)
	out := cp
	return &out, nil
}

func (f *fakeContestRepo) GetContest(ctx context.Context, id uuid.UUID) (*models.Contest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contests[id]
	if !ok {
		return nil, common.Errorf("%w: contest %s", common.ErrNotFound, id)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeContestRepo) ListContests(ctx context.Context) ([]models.Contest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Contest
	for _, c := range f.contests {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeContestRepo) StartContest(ctx context.Context, id uuid.UUID, startTime time.Time, evt EventRecord) (*models.Contest, error) {
	return f.apply(id, evt, func(c *models.Contest) {
		c.StartTime = startTime
	})
}

func (f *fakeContestRepo) FreezeContest(ctx context.Context, id uuid.UUID, frozenAt time.Time, evt EventRecord) (*models.Contest, error) {
	return f.apply(id, evt, func(c *models.Contest) {
		c.IsFrozen = true
		at := frozenAt
		c.FrozenAt = &at
	})
}

func (f *fakeContestRepo) UnfreezeContest(ctx context.Context, id uuid.UUID, evt EventRecord) (*models.Contest, error) {
	return f.apply(id, evt, func(c *models.Contest) {
		c.IsFrozen = false
		c.FrozenAt = nil
	})
}

func (f *fakeContestRepo) EndContest(ctx context.Context, id uuid.UUID, durationMinutes int, endedAt time.Time, evt EventRecord) (*models.Contest, error) {
	return f.apply(id, evt, func(c *models.Contest) {
		c.DurationMinutes = durationMinutes
		at := endedAt
		c.EndedAt = &at
	})
}

func (f *fakeContestRepo) apply(id uuid.UUID, evt EventRecord, mutate func(*models.Contest)) (*models.Contest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contests[id]
	if !ok {
		return nil, common.Errorf("%w: contest %s", common.ErrNotFound, id)
	}
	mutate(c)
	f.recordedEvents = append(f.recordedEvents, evt)
	f.transitionCalls++
	cp := *c
	return &cp, nil
}

func (f *fakeContestRepo) CountProblems(ctx context.Context, contestID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.problemCount[contestID], nil
}

func (f *fakeContestRepo) ListProblemsWithoutTestCases(ctx context.Context, contestID uuid.UUID) ([]models.Problem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.missingCases[contestID], nil
}

func (f *fakeContestRepo) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.recordedEvents))
	for _, evt := range f.recordedEvents {
		out = append(out, evt.Type)
	}
	return out
}

var testBase = time.Date(2025, 10, 4, 12, 0, 0, 0, time.UTC)

func newTestApp() (*App, *fakeContestRepo, *clockwork.FakeClock) {
	repo := newFakeContestRepo()
	clk := clockwork.NewFakeClockAt(testBase)
	return NewApp(repo, clk), repo, clk
}

func adminActor() auth.Actor {
	return auth.Actor{ID: uuid.New(), Role: auth.RoleAdmin}
}

// seedContest stores a ready-to-start contest owned by the given admin and
// returns its id. Start time defaults to one hour in the future.
func seedContest(repo *fakeContestRepo, owner auth.Actor, startTime time.Time, durationMin, freezeMin int) uuid.UUID {
	id := uuid.New()
	repo.put(&models.Contest{
		ID:                id,
		Slug:              "autumn-open",
		Name:              "Autumn Open",
		OwnerID:           owner.ID,
		StartTime:         startTime,
		DurationMinutes:   durationMin,
		FreezeTimeMinutes: freezeMin,
	})
	repo.mu.Lock()
	repo.problemCount[id] = 3
	repo.mu.Unlock()
	return id
}

func TestCreateContestCollectsAllViolations(t *testing.T) {
	app, _, _ := newTestApp()

	_, err := app.CreateContest(context.Background(), adminActor(), CreateContestRequest{
		DurationMinutes:   0,
		FreezeTimeMinutes: -5,
	})
	if !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	var vErr *common.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	want := []string{"name", "start_time", "duration_minutes", "freeze_time_minutes"}
	if len(vErr.Violations) < len(want) {
		t.Fatalf("expected at least %d violations, got %d: %v", len(want), len(vErr.Violations), vErr.Violations)
	}
	for _, field := range want {
		found := false
		for _, v := range vErr.Violations {
			if strings.Contains(v, field) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no violation mentions %q: %v", field, vErr.Violations)
		}
	}
}

func TestCreateContestSetsOwnerAndSlug(t *testing.T) {
	app, repo, _ := newTestApp()
	admin := adminActor()

	c, err := app.CreateContest(context.Background(), admin, CreateContestRequest{
		Name:              "Spring Code Clash 2026",
		StartTime:         testBase.Add(24 * time.Hour),
		DurationMinutes:   180,
		FreezeTimeMinutes: 60,
	})
	if err != nil {
		t.Fatalf("CreateContest: %v", err)
	}
	if c.OwnerID != admin.ID {
		t.Errorf("owner = %s, want %s", c.OwnerID, admin.ID)
	}
	if c.Slug != "spring-code-clash-2026" {
		t.Errorf("slug = %q, want %q", c.Slug, "spring-code-clash-2026")
	}
	if got := repo.eventTypes(); len(got) != 1 || got[0] != "ContestCreated" {
		t.Errorf("recorded events = %v, want [ContestCreated]", got)
	}
}

func TestStartContestFastForwardsScheduledStart(t *testing.T) {
	app, repo, clk := newTestApp()
	admin := adminActor()
	id := seedContest(repo, admin, testBase.Add(24*time.Hour), 180, 60)

	c, err := app.StartContest(context.Background(), admin, id)
	if err != nil {
		t.Fatalf("StartContest: %v", err)
	}
	if !c.StartTime.Equal(clk.Now()) {
		t.Errorf("start_time = %v, want fast-forwarded to %v", c.StartTime, clk.Now())
	}
	if status := app.Describe(c).Status; status != models.ContestStatusRunning {
		t.Errorf("status after start = %q, want running", status)
	}
	if got := repo.eventTypes(); len(got) != 1 || got[0] != "ContestStarted" {
		t.Errorf("recorded events = %v, want [ContestStarted]", got)
	}
}

func TestStartContestCollectsReadinessViolations(t *testing.T) {
	app, repo, _ := newTestApp()
	admin := adminActor()
	id := seedContest(repo, admin, testBase.Add(time.Hour), 180, 60)

	repo.mu.Lock()
	repo.problemCount[id] = 2
	repo.missingCases[id] = []models.Problem{
		{ID: uuid.New(), ContestID: id, Title: "Two Sum"},
		{ID: uuid.New(), ContestID: id, Title: "Graph Paths"},
	}
	repo.mu.Unlock()

	_, err := app.StartContest(context.Background(), admin, id)
	var vErr *common.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(vErr.Violations) != 2 {
		t.Fatalf("violations = %v, want one per problem without test cases", vErr.Violations)
	}
	for _, title := range []string{"Two Sum", "Graph Paths"} {
		found := false
		for _, v := range vErr.Violations {
			if strings.Contains(v, title) {
				found = true
			}
		}
		if !found {
			t.Errorf("no violation names problem %q: %v", title, vErr.Violations)
		}
	}

	repo.mu.Lock()
	repo.problemCount[id] = 0
	repo.missingCases[id] = nil
	repo.mu.Unlock()

	_, err = app.StartContest(context.Background(), admin, id)
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(vErr.Violations) != 1 || !strings.Contains(vErr.Violations[0], "no problems") {
		t.Errorf("violations = %v, want [contest has no problems]", vErr.Violations)
	}
}

func TestTransitionsRequireContestOwner(t *testing.T) {
	app, repo, _ := newTestApp()
	owner := adminActor()
	id := seedContest(repo, owner, testBase.Add(-time.Hour), 180, 60)

	otherAdmin := adminActor()
	teamActor := auth.Actor{ID: owner.ID, Role: auth.RoleTeam}

	ops := map[string]func(context.Context, auth.Actor, uuid.UUID) (*models.Contest, error){
		"start":    app.StartContest,
		"freeze":   app.FreezeContest,
		"unfreeze": app.UnfreezeContest,
		"end":      app.EndContest,
	}
	for name, op := range ops {
		for _, actor := range []auth.Actor{otherAdmin, teamActor} {
			if _, err := op(context.Background(), actor, id); !errors.Is(err, common.ErrAuthentication) {
				t.Errorf("%s by %s actor: err = %v, want authentication error", name, actor.Role, err)
			}
		}
	}
}

func TestLifecycleMonotonicity(t *testing.T) {
	app, repo, clk := newTestApp()
	admin := adminActor()
	ctx := context.Background()
	id := seedContest(repo, admin, testBase.Add(time.Hour), 180, 60)

	// end and freeze before start are unreachable
	if _, err := app.EndContest(ctx, admin, id); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("end before start: err = %v, want conflict", err)
	}
	if _, err := app.FreezeContest(ctx, admin, id); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("freeze before start: err = %v, want conflict", err)
	}
	if _, err := app.UnfreezeContest(ctx, admin, id); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("unfreeze before start: err = %v, want conflict", err)
	}

	if _, err := app.StartContest(ctx, admin, id); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := app.StartContest(ctx, admin, id); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("second start: err = %v, want conflict", err)
	}

	clk.Advance(30 * time.Minute)

	// frozen and running alternate freely while the contest runs
	if _, err := app.FreezeContest(ctx, admin, id); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if _, err := app.FreezeContest(ctx, admin, id); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("double freeze: err = %v, want conflict", err)
	}
	if _, err := app.UnfreezeContest(ctx, admin, id); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if _, err := app.UnfreezeContest(ctx, admin, id); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("double unfreeze: err = %v, want conflict", err)
	}
	if _, err := app.FreezeContest(ctx, admin, id); err != nil {
		t.Fatalf("refreeze: %v", err)
	}

	// ending is reachable from frozen
	clk.Advance(15 * time.Minute)
	ended, err := app.EndContest(ctx, admin, id)
	if err != nil {
		t.Fatalf("end from frozen: %v", err)
	}
	if status := app.Describe(ended).Status; status != models.ContestStatusEnded {
		t.Errorf("status after end = %q, want ended", status)
	}
	if _, err := app.EndContest(ctx, admin, id); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("second end: err = %v, want conflict", err)
	}
	if _, err := app.FreezeContest(ctx, admin, id); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("freeze after end: err = %v, want conflict", err)
	}

	want := []string{"ContestStarted", "ContestFrozen", "ContestUnfrozen", "ContestFrozen", "ContestEnded"}
	got := repo.eventTypes()
	if len(got) != len(want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event sequence = %v, want %v", got, want)
		}
	}
}

func TestEndTruncatesDurationToElapsedMinutes(t *testing.T) {
	app, repo, _ := newTestApp()
	admin := adminActor()
	ctx := context.Background()

	// started 90.5 minutes ago with a 180 minute nominal duration
	id := seedContest(repo, admin, testBase.Add(-90*time.Minute-30*time.Second), 180, 60)

	c, err := app.EndContest(ctx, admin, id)
	if err != nil {
		t.Fatalf("EndContest: %v", err)
	}
	if c.DurationMinutes != 90 {
		t.Errorf("duration_minutes = %d, want truncated to 90", c.DurationMinutes)
	}
	if c.EndedAt == nil || !c.EndedAt.Equal(testBase) {
		t.Errorf("ended_at = %v, want %v", c.EndedAt, testBase)
	}
	if status := app.Describe(c).Status; status != models.ContestStatusEnded {
		t.Errorf("status after truncation = %q, want ended", status)
	}
}

func TestUnfreezeAllowedAfterEndTime(t *testing.T) {
	app, repo, _ := newTestApp()
	admin := adminActor()
	ctx := context.Background()

	// frozen during the run, nominal end already passed
	id := seedContest(repo, admin, testBase.Add(-4*time.Hour), 180, 60)
	frozenAt := testBase.Add(-90 * time.Minute)
	repo.mu.Lock()
	c := repo.contests[id]
	c.IsFrozen = true
	c.FrozenAt = &frozenAt
	repo.mu.Unlock()

	updated, err := app.UnfreezeContest(ctx, admin, id)
	if err != nil {
		t.Fatalf("unfreeze after end time: %v", err)
	}
	if updated.IsFrozen || updated.FrozenAt != nil {
		t.Errorf("freeze flag not cleared: %+v", updated)
	}
}

func TestConcurrentTransitionsSerializePerContest(t *testing.T) {
	app, repo, _ := newTestApp()
	admin := adminActor()
	ctx := context.Background()
	id := seedContest(repo, admin, testBase.Add(-30*time.Minute), 180, 60)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = app.EndContest(ctx, admin, id)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, common.ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d concurrent ends succeeded, want exactly 1", succeeded)
	}
	repo.mu.Lock()
	calls := repo.transitionCalls
	repo.mu.Unlock()
	if calls != 1 {
		t.Errorf("repository saw %d transition writes, want 1", calls)
	}
}

func TestDescribeReflectsExplicitFreezeOnly(t *testing.T) {
	app, repo, _ := newTestApp()
	admin := adminActor()

	// 170 minutes into a 180 minute contest whose freeze offset passed at 120
	id := seedContest(repo, admin, testBase.Add(-170*time.Minute), 180, 60)
	c, err := app.GetContest(context.Background(), id)
	if err != nil {
		t.Fatalf("GetContest: %v", err)
	}

	status := app.Describe(c)
	if status.Status != models.ContestStatusRunning {
		t.Errorf("status = %q, want running while the flag is unset", status.Status)
	}
	if status.TimeUntilFreezeSec != 0 {
		t.Errorf("timeUntilFreeze = %d, want 0 once the offset passed", status.TimeUntilFreezeSec)
	}

	if _, err := app.FreezeContest(context.Background(), admin, id); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	c, _ = app.GetContest(context.Background(), id)
	if got := app.Describe(c).Status; got != models.ContestStatusFrozen {
		t.Errorf("status after explicit freeze = %q, want frozen", got)
	}
}
