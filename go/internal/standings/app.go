package standings

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/kshah22/codeclash/go/internal/events"
	"github.com/kshah22/codeclash/go/internal/models"
	"github.com/kshah22/codeclash/go/internal/outbox"
)

// TeamLister loads the team roster for a contest
type TeamLister interface {
	ListTeamsByContest(ctx context.Context, contestID uuid.UUID) ([]models.Team, error)
}

// SubmissionLister loads the judged submissions the table is built from
type SubmissionLister interface {
	ListJudgedByContest(ctx context.Context, contestID uuid.UUID) ([]models.Submission, error)
	ListJudgedByContestBefore(ctx context.Context, contestID uuid.UUID, cutoff time.Time) ([]models.Submission, error)
}

// ContestReader loads the contest for its freeze state
type ContestReader interface {
	GetContest(ctx context.Context, id uuid.UUID) (*models.Contest, error)
}

// Cache mirrors snapshots outside process memory. Cache failures degrade
// to memory-only operation, they never block a broadcast.
type Cache interface {
	StoreCurrent(ctx context.Context, table *models.StandingsTable) error
	StoreFrozen(ctx context.Context, table *models.StandingsTable) error
	LoadCurrent(ctx context.Context, contestID uuid.UUID) (*models.StandingsTable, error)
	LoadFrozen(ctx context.Context, contestID uuid.UUID) (*models.StandingsTable, error)
	DropFrozen(ctx context.Context, contestID uuid.UUID) error
}

// App recomputes and serves standings. Recompute-then-broadcast is one
// atomic step per contest: a per-contest lock covers the load, the fold,
// the snapshot swap and the publish, so readers and room members never
// see a half-applied update.
type App struct {
	teams     TeamLister
	subs      SubmissionLister
	contests  ContestReader
	cache     Cache
	publisher outbox.Publisher
	clock     clockwork.Clock

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex

	snapMu  sync.RWMutex
	current map[uuid.UUID]*models.StandingsTable
	frozen  map[uuid.UUID]*models.StandingsTable
}

// NewApp creates a new standings App
func NewApp(teams TeamLister, subs SubmissionLister, contests ContestReader, cache Cache, publisher outbox.Publisher, clk clockwork.Clock) *App {
	return &App{
		teams:     teams,
		subs:      subs,
		contests:  contests,
		cache:     cache,
		publisher: publisher,
		clock:     clk,
		locks:     make(map[uuid.UUID]*sync.Mutex),
		current:   make(map[uuid.UUID]*models.StandingsTable),
		frozen:    make(map[uuid.UUID]*models.StandingsTable),
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

// RecomputeAndBroadcast rebuilds the contest's table and publishes it.
// During a freeze the published event carries IsFrozen=true and the
// gateway keeps it away from team connections.
func (a *App) RecomputeAndBroadcast(ctx context.Context, contestID uuid.UUID) error {
	lock := a.contestLock(contestID)
	lock.Lock()
	defer lock.Unlock()

	c, err := a.contests.GetContest(ctx, contestID)
	if err != nil {
		return err
	}

	table, err := a.rebuild(ctx, contestID, c.IsFrozen)
	if err != nil {
		return err
	}

	a.setCurrent(table)
	if err := a.cache.StoreCurrent(ctx, table); err != nil {
		log.Printf("Failed to mirror standings for contest %s: %v", contestID, err)
	}

	return a.publish(ctx, table)
}

// HandleFrozen pins the freeze-time table. The cutoff is the persisted
// frozen_at instant, so rebuilding the snapshot later (or on another
// instance) yields the same table regardless of event timing.
func (a *App) HandleFrozen(ctx context.Context, contestID uuid.UUID) error {
	lock := a.contestLock(contestID)
	lock.Lock()
	defer lock.Unlock()

	c, err := a.contests.GetContest(ctx, contestID)
	if err != nil {
		return err
	}
	if c.FrozenAt == nil {
		// Unfrozen before we got here, nothing to pin.
		log.Printf("Contest %s has no frozen_at, skipping freeze snapshot", contestID)
		return nil
	}

	subs, err := a.subs.ListJudgedByContestBefore(ctx, contestID, *c.FrozenAt)
	if err != nil {
		return err
	}
	teams, err := a.teams.ListTeamsByContest(ctx, contestID)
	if err != nil {
		return err
	}

	table := Build(contestID, teams, subs, *c.FrozenAt)
	table.IsFrozen = true
	a.setFrozen(&table)
	if err := a.cache.StoreFrozen(ctx, &table); err != nil {
		log.Printf("Failed to mirror frozen standings for contest %s: %v", contestID, err)
	}

	log.Printf("Pinned frozen standings for contest %s at %s", contestID, c.FrozenAt.Format(time.RFC3339))
	return nil
}

// HandleUnfrozen drops the frozen snapshot and publishes the reveal table
// to everyone.
func (a *App) HandleUnfrozen(ctx context.Context, contestID uuid.UUID) error {
	lock := a.contestLock(contestID)
	lock.Lock()
	defer lock.Unlock()

	a.dropFrozen(contestID)
	if err := a.cache.DropFrozen(ctx, contestID); err != nil {
		log.Printf("Failed to drop mirrored frozen standings for contest %s: %v", contestID, err)
	}

	table, err := a.rebuild(ctx, contestID, false)
	if err != nil {
		return err
	}

	a.setCurrent(table)
	if err := a.cache.StoreCurrent(ctx, table); err != nil {
		log.Printf("Failed to mirror standings for contest %s: %v", contestID, err)
	}

	log.Printf("Revealed standings for contest %s", contestID)
	return a.publish(ctx, table)
}

func (a *App) rebuild(ctx context.Context, contestID uuid.UUID, isFrozen bool) (*models.StandingsTable, error) {
	subs, err := a.subs.ListJudgedByContest(ctx, contestID)
	if err != nil {
		return nil, err
	}
	teams, err := a.teams.ListTeamsByContest(ctx, contestID)
	if err != nil {
		return nil, err
	}

	table := Build(contestID, teams, subs, a.clock.Now())
	table.IsFrozen = isFrozen
	return &table, nil
}

// Snapshot returns the table a caller may see. Admins always get the live
// table; teams get the pinned freeze-time table while the contest is
// frozen. ok is false when no table has been computed yet.
func (a *App) Snapshot(ctx context.Context, contestID uuid.UUID, isAdmin bool) (*models.StandingsTable, bool) {
	a.snapMu.RLock()
	frozen := a.frozen[contestID]
	current := a.current[contestID]
	a.snapMu.RUnlock()

	if !isAdmin && frozen != nil {
		return frozen, true
	}
	if current != nil {
		return current, true
	}

	// Fall back to the mirror after a restart.
	if !isAdmin {
		if table, err := a.cache.LoadFrozen(ctx, contestID); err == nil && table != nil {
			return table, true
		}
	}
	table, err := a.cache.LoadCurrent(ctx, contestID)
	if err != nil || table == nil {
		return nil, false
	}
	return table, true
}

// Recompute rebuilds the table without publishing, for callers that need
// a fresh read (point-to-point leaderboard requests on a cold start). A
// non-admin caller during a freeze gets the table rebuilt at the
// frozen_at cutoff, never the live one.
func (a *App) Recompute(ctx context.Context, contestID uuid.UUID, isAdmin bool) (*models.StandingsTable, error) {
	lock := a.contestLock(contestID)
	lock.Lock()
	defer lock.Unlock()

	c, err := a.contests.GetContest(ctx, contestID)
	if err != nil {
		return nil, err
	}

	if !isAdmin && c.IsFrozen && c.FrozenAt != nil {
		subs, err := a.subs.ListJudgedByContestBefore(ctx, contestID, *c.FrozenAt)
		if err != nil {
			return nil, err
		}
		teams, err := a.teams.ListTeamsByContest(ctx, contestID)
		if err != nil {
			return nil, err
		}
		table := Build(contestID, teams, subs, *c.FrozenAt)
		table.IsFrozen = true
		a.setFrozen(&table)
		return &table, nil
	}

	table, err := a.rebuild(ctx, contestID, c.IsFrozen)
	if err != nil {
		return nil, err
	}
	a.setCurrent(table)
	return table, nil
}

func (a *App) publish(ctx context.Context, table *models.StandingsTable) error {
	payload := events.LeaderboardUpdatedPayload{
		ContestID:  table.ContestID.String(),
		Teams:      table.Rows,
		IsFrozen:   table.IsFrozen,
		LastUpdate: table.LastUpdate,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", events.TypeLeaderboardUpdated, err)
	}

	// Derived data goes straight to the stream, bypassing the outbox
	// table. Losing one update is fine, the next recompute supersedes it.
	return a.publisher.Publish(ctx, outbox.OutboxEvent{
		ID:        uuid.New(),
		ContestID: table.ContestID,
		EventType: events.TypeLeaderboardUpdated,
		Payload:   data,
		CreatedAt: a.clock.Now(),
	})
}

func (a *App) setCurrent(table *models.StandingsTable) {
	a.snapMu.Lock()
	a.current[table.ContestID] = table
	a.snapMu.Unlock()
}

func (a *App) setFrozen(table *models.StandingsTable) {
	a.snapMu.Lock()
	a.frozen[table.ContestID] = table
	a.snapMu.Unlock()
}

func (a *App) dropFrozen(contestID uuid.UUID) {
	a.snapMu.Lock()
	delete(a.frozen, contestID)
	a.snapMu.Unlock()
}
