package standings

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/kshah22/codeclash/go/internal/events"
	"github.com/kshah22/codeclash/go/internal/models"
	"github.com/kshah22/codeclash/go/internal/outbox"
)

type fakeTeamLister struct {
	teams []models.Team
}

func (f *fakeTeamLister) ListTeamsByContest(ctx context.Context, contestID uuid.UUID) ([]models.Team, error) {
	out := make([]models.Team, len(f.teams))
	copy(out, f.teams)
	return out, nil
}

type fakeSubmissionLister struct {
	mu         sync.Mutex
	subs       []models.Submission
	lastCutoff time.Time
}

func (f *fakeSubmissionLister) add(sub models.Submission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
}

func (f *fakeSubmissionLister) ListJudgedByContest(ctx context.Context, contestID uuid.UUID) ([]models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Submission, len(f.subs))
	copy(out, f.subs)
	return out, nil
}

func (f *fakeSubmissionLister) ListJudgedByContestBefore(ctx context.Context, contestID uuid.UUID, cutoff time.Time) ([]models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCutoff = cutoff
	var out []models.Submission
	for _, sub := range f.subs {
		if sub.JudgedAt != nil && !sub.JudgedAt.After(cutoff) {
			out = append(out, sub)
		}
	}
	return out, nil
}

type fakeContestReader struct {
	mu sync.Mutex
	c  models.Contest
}

func (f *fakeContestReader) GetContest(ctx context.Context, id uuid.UUID) (*models.Contest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.c
	return &c, nil
}

func (f *fakeContestReader) freeze(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.IsFrozen = true
	f.c.FrozenAt = &at
}

func (f *fakeContestReader) unfreeze() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.IsFrozen = false
}

type fakeCache struct {
	mu      sync.Mutex
	current map[uuid.UUID]*models.StandingsTable
	frozen  map[uuid.UUID]*models.StandingsTable
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		current: make(map[uuid.UUID]*models.StandingsTable),
		frozen:  make(map[uuid.UUID]*models.StandingsTable),
	}
}

func (f *fakeCache) StoreCurrent(ctx context.Context, table *models.StandingsTable) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current[table.ContestID] = table
	return nil
}

func (f *fakeCache) StoreFrozen(ctx context.Context, table *models.StandingsTable) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frozen[table.ContestID] = table
	return nil
}

func (f *fakeCache) LoadCurrent(ctx context.Context, contestID uuid.UUID) (*models.StandingsTable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current[contestID], nil
}

func (f *fakeCache) LoadFrozen(ctx context.Context, contestID uuid.UUID) (*models.StandingsTable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frozen[contestID], nil
}

func (f *fakeCache) DropFrozen(ctx context.Context, contestID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.frozen, contestID)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []outbox.OutboxEvent
}

func (f *fakePublisher) Publish(ctx context.Context, event outbox.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakePublisher) last(t *testing.T) events.LeaderboardUpdatedPayload {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		t.Fatal("no events published")
	}
	evt := f.events[len(f.events)-1]
	if evt.EventType != events.TypeLeaderboardUpdated {
		t.Fatalf("last event type = %s, want %s", evt.EventType, events.TypeLeaderboardUpdated)
	}
	var payload events.LeaderboardUpdatedPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return payload
}

type standingsFixture struct {
	app      *App
	contests *fakeContestReader
	subs     *fakeSubmissionLister
	cache    *fakeCache
	pub      *fakePublisher

	contestID uuid.UUID
	teamA     models.Team
	teamB     models.Team
	problem   uuid.UUID
}

func newStandingsFixture(t *testing.T) *standingsFixture {
	t.Helper()
	contestID := uuid.New()
	teamA := mkTeam(contestID, "alpha")
	teamB := mkTeam(contestID, "beta")

	contests := &fakeContestReader{c: models.Contest{
		ID:              contestID,
		Name:            "standings test",
		StartTime:       buildBase,
		DurationMinutes: 180,
	}}
	subs := &fakeSubmissionLister{}
	cache := newFakeCache()
	pub := &fakePublisher{}

	app := NewApp(
		&fakeTeamLister{teams: []models.Team{teamA, teamB}},
		subs,
		contests,
		cache,
		pub,
		clockwork.NewFakeClockAt(buildBase.Add(time.Hour)),
	)

	return &standingsFixture{
		app:       app,
		contests:  contests,
		subs:      subs,
		cache:     cache,
		pub:       pub,
		contestID: contestID,
		teamA:     teamA,
		teamB:     teamB,
		problem:   uuid.New(),
	}
}

func (fx *standingsFixture) solve(team models.Team, submitted, judgedAt time.Time) {
	sub := judged(team.ID, fx.problem, 100, true, submitted)
	sub.ContestID = fx.contestID
	sub.JudgedAt = &judgedAt
	fx.subs.add(sub)
}

func TestFreezeHidesLateResultsFromTeams(t *testing.T) {
	fx := newStandingsFixture(t)
	ctx := context.Background()

	fx.solve(fx.teamA, buildBase.Add(10*time.Minute), buildBase.Add(11*time.Minute))
	if err := fx.app.RecomputeAndBroadcast(ctx, fx.contestID); err != nil {
		t.Fatalf("RecomputeAndBroadcast: %v", err)
	}
	if payload := fx.pub.last(t); payload.IsFrozen {
		t.Error("pre-freeze broadcast marked frozen")
	}

	frozenAt := buildBase.Add(60 * time.Minute)
	fx.contests.freeze(frozenAt)
	if err := fx.app.HandleFrozen(ctx, fx.contestID); err != nil {
		t.Fatalf("HandleFrozen: %v", err)
	}
	if !fx.subs.lastCutoff.Equal(frozenAt) {
		t.Errorf("freeze snapshot cutoff = %v, want %v", fx.subs.lastCutoff, frozenAt)
	}

	// A verdict lands during the freeze.
	fx.solve(fx.teamB, buildBase.Add(65*time.Minute), buildBase.Add(70*time.Minute))
	if err := fx.app.RecomputeAndBroadcast(ctx, fx.contestID); err != nil {
		t.Fatalf("RecomputeAndBroadcast during freeze: %v", err)
	}
	if payload := fx.pub.last(t); !payload.IsFrozen {
		t.Error("broadcast during freeze not marked frozen")
	}

	adminTable, ok := fx.app.Snapshot(ctx, fx.contestID, true)
	if !ok {
		t.Fatal("no admin snapshot")
	}
	if got := rowFor(t, *adminTable, fx.teamB.ID).TotalPoints; got != 100 {
		t.Errorf("admin sees teamB with %d points, want 100", got)
	}

	teamTable, ok := fx.app.Snapshot(ctx, fx.contestID, false)
	if !ok {
		t.Fatal("no team snapshot")
	}
	if !teamTable.IsFrozen {
		t.Error("team snapshot during freeze not marked frozen")
	}
	if got := rowFor(t, *teamTable, fx.teamB.ID).TotalPoints; got != 0 {
		t.Errorf("team sees teamB with %d points during freeze, want 0", got)
	}
	if got := rowFor(t, *teamTable, fx.teamA.ID).TotalPoints; got != 100 {
		t.Errorf("team sees teamA with %d points, want 100 (scored before the freeze)", got)
	}
}

func TestHandleFrozenPinsWithoutBroadcast(t *testing.T) {
	fx := newStandingsFixture(t)
	ctx := context.Background()

	fx.contests.freeze(buildBase.Add(30 * time.Minute))
	if err := fx.app.HandleFrozen(ctx, fx.contestID); err != nil {
		t.Fatalf("HandleFrozen: %v", err)
	}

	if n := fx.pub.count(); n != 0 {
		t.Errorf("HandleFrozen published %d events, want 0", n)
	}
	if _, ok := fx.app.Snapshot(ctx, fx.contestID, false); !ok {
		t.Error("frozen snapshot not pinned")
	}
}

func TestHandleFrozenWithoutTimestampSkips(t *testing.T) {
	fx := newStandingsFixture(t)
	ctx := context.Background()

	// is_frozen without frozen_at, the unfreeze won the race.
	fx.contests.mu.Lock()
	fx.contests.c.IsFrozen = true
	fx.contests.mu.Unlock()

	if err := fx.app.HandleFrozen(ctx, fx.contestID); err != nil {
		t.Fatalf("HandleFrozen: %v", err)
	}
	fx.app.snapMu.RLock()
	_, pinned := fx.app.frozen[fx.contestID]
	fx.app.snapMu.RUnlock()
	if pinned {
		t.Error("pinned a frozen snapshot with no frozen_at")
	}
}

func TestUnfreezeRevealsAndDropsFrozen(t *testing.T) {
	fx := newStandingsFixture(t)
	ctx := context.Background()

	frozenAt := buildBase.Add(30 * time.Minute)
	fx.solve(fx.teamA, buildBase.Add(10*time.Minute), buildBase.Add(11*time.Minute))
	fx.contests.freeze(frozenAt)
	if err := fx.app.HandleFrozen(ctx, fx.contestID); err != nil {
		t.Fatalf("HandleFrozen: %v", err)
	}
	fx.solve(fx.teamB, buildBase.Add(40*time.Minute), buildBase.Add(41*time.Minute))

	fx.contests.unfreeze()
	if err := fx.app.HandleUnfrozen(ctx, fx.contestID); err != nil {
		t.Fatalf("HandleUnfrozen: %v", err)
	}

	payload := fx.pub.last(t)
	if payload.IsFrozen {
		t.Error("reveal broadcast marked frozen")
	}

	teamTable, ok := fx.app.Snapshot(ctx, fx.contestID, false)
	if !ok {
		t.Fatal("no snapshot after reveal")
	}
	if got := rowFor(t, *teamTable, fx.teamB.ID).TotalPoints; got != 100 {
		t.Errorf("team sees teamB with %d points after reveal, want 100", got)
	}

	if table, _ := fx.cache.LoadFrozen(ctx, fx.contestID); table != nil {
		t.Error("frozen mirror survived the unfreeze")
	}
}

func TestSnapshotFallsBackToMirror(t *testing.T) {
	fx := newStandingsFixture(t)
	ctx := context.Background()

	// Seed the mirror only, as if this instance just restarted.
	live := &models.StandingsTable{ContestID: fx.contestID, LastUpdate: buildBase.Add(40 * time.Minute)}
	pinned := &models.StandingsTable{ContestID: fx.contestID, IsFrozen: true, LastUpdate: buildBase.Add(30 * time.Minute)}
	fx.cache.StoreCurrent(ctx, live)
	fx.cache.StoreFrozen(ctx, pinned)

	teamTable, ok := fx.app.Snapshot(ctx, fx.contestID, false)
	if !ok {
		t.Fatal("no team snapshot from mirror")
	}
	if !teamTable.LastUpdate.Equal(pinned.LastUpdate) {
		t.Errorf("team got table from %v, want the pinned %v", teamTable.LastUpdate, pinned.LastUpdate)
	}

	adminTable, ok := fx.app.Snapshot(ctx, fx.contestID, true)
	if !ok {
		t.Fatal("no admin snapshot from mirror")
	}
	if !adminTable.LastUpdate.Equal(live.LastUpdate) {
		t.Errorf("admin got table from %v, want the live %v", adminTable.LastUpdate, live.LastUpdate)
	}
}

func TestRecomputeColdStartHonorsFreeze(t *testing.T) {
	fx := newStandingsFixture(t)
	ctx := context.Background()

	frozenAt := buildBase.Add(30 * time.Minute)
	fx.solve(fx.teamA, buildBase.Add(10*time.Minute), buildBase.Add(11*time.Minute))
	fx.contests.freeze(frozenAt)
	fx.solve(fx.teamB, buildBase.Add(40*time.Minute), buildBase.Add(41*time.Minute))

	teamTable, err := fx.app.Recompute(ctx, fx.contestID, false)
	if err != nil {
		t.Fatalf("Recompute for team: %v", err)
	}
	if got := rowFor(t, *teamTable, fx.teamB.ID).TotalPoints; got != 0 {
		t.Errorf("cold-start team table shows teamB with %d points, want 0", got)
	}
	if !teamTable.IsFrozen {
		t.Error("cold-start team table not marked frozen")
	}

	adminTable, err := fx.app.Recompute(ctx, fx.contestID, true)
	if err != nil {
		t.Fatalf("Recompute for admin: %v", err)
	}
	if got := rowFor(t, *adminTable, fx.teamB.ID).TotalPoints; got != 100 {
		t.Errorf("cold-start admin table shows teamB with %d points, want 100", got)
	}
}
