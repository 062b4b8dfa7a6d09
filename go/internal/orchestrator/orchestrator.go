package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/kshah22/codeclash/go/internal/events"
	"github.com/kshah22/codeclash/go/internal/outbox"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// timerKey identifies one scheduled firing. remaining is how much contest
// time is left at the moment the timer fires; zero marks the natural end.
type timerKey struct {
	contestID uuid.UUID
	remaining time.Duration
}

// contestSchedule remembers the timeline a contest was scheduled against.
// The started_at doubles as the idempotency guard for replayed events.
type contestSchedule struct {
	StartedAt time.Time
	EndTime   time.Time
}

// Config controls the orchestrator's consumer and its warning marks.
type Config struct {
	URL           string
	ConsumerName  string
	StreamName    string
	FilterSubject string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration

	// WarningMarks are remaining-time thresholds that trigger a TimeWarning.
	WarningMarks []time.Duration
	Workers      int
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		ConsumerName:  "contest-orchestrator",
		StreamName:    events.ContestStreamName,
		FilterSubject: events.ContestSubjectFilter,
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		WarningMarks:  []time.Duration{30 * time.Minute, 10 * time.Minute, 5 * time.Minute, time.Minute},
		Workers:       4,
	}
}

// Orchestrator owns the contest timeline. It consumes lifecycle events,
// keeps one-shot timers for warning marks and the natural end, and publishes
// TimeWarning and ContestEnded when they fire. The contest phase itself is
// derived from the stored timeline, so the natural end writes no state.
type Orchestrator struct {
	config     Config
	publisher  outbox.Publisher
	clock      Clock
	instanceID string

	workCh chan timerKey

	activeTimers   map[timerKey]clockwork.Timer
	activeTimersMu sync.Mutex

	scheduled   map[uuid.UUID]contestSchedule
	scheduledMu sync.Mutex

	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
}

// NewOrchestrator connects to NATS and prepares the timer maps. Run starts
// the consumer and worker pool.
func NewOrchestrator(config Config, publisher outbox.Publisher, clk Clock) (*Orchestrator, error) {
	nc, js, err := setupNATSConnection(config)
	if err != nil {
		return nil, err
	}

	if clk == nil {
		clk = clockwork.NewRealClock()
	}

	return &Orchestrator{
		config:       config,
		publisher:    publisher,
		clock:        clk,
		instanceID:   uuid.New().String()[:8],
		workCh:       make(chan timerKey, config.Workers*2),
		activeTimers: make(map[timerKey]clockwork.Timer),
		scheduled:    make(map[uuid.UUID]contestSchedule),
		nc:           nc,
		js:           js,
	}, nil
}

// HandleContestEvent routes a consumed lifecycle event.
func (o *Orchestrator) HandleContestEvent(ctx context.Context, eventType string, contestID uuid.UUID, payload []byte) error {
	switch eventType {
	case events.TypeContestStarted:
		var p events.ContestStartedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("unmarshal ContestStarted payload: %w", err)
		}
		return o.handleContestStarted(ctx, contestID, p)

	case events.TypeContestEnded:
		log.Info().
			Str("contest_id", contestID.String()).
			Str("instance", o.instanceID).
			Msg("contest ended, cancelling timers")
		o.cancelContest(contestID)
		return nil

	case events.TypeContestFrozen, events.TypeContestUnfrozen:
		// Freezing hides standings. The clock keeps running, so do the
		// warnings and the natural end.
		return nil

	default:
		// Submission and leaderboard traffic shares the stream; the
		// orchestrator has no timers to manage for it.
		log.Debug().
			Str("event_type", eventType).
			Str("contest_id", contestID.String()).
			Msg("no orchestrator action for event")
		return nil
	}
}

// handleContestStarted schedules the warning marks and the natural end.
func (o *Orchestrator) handleContestStarted(ctx context.Context, contestID uuid.UUID, payload events.ContestStartedPayload) error {
	log.Info().
		Str("contest_id", contestID.String()).
		Time("started_at", payload.StartedAt).
		Time("end_time", payload.EndTime).
		Str("instance", o.instanceID).
		Msg("handling ContestStarted event")

	return o.scheduleContest(ctx, contestID, payload.StartedAt, payload.EndTime)
}

// handleTimer is the worker-side action when a timer fires.
func (o *Orchestrator) handleTimer(ctx context.Context, key timerKey) error {
	if key.remaining == 0 {
		return o.publishContestEnded(ctx, key.contestID)
	}
	return o.publishTimeWarning(ctx, key)
}

func (o *Orchestrator) publishTimeWarning(ctx context.Context, key timerKey) error {
	payload, err := json.Marshal(events.TimeWarningPayload{
		ContestID:        key.contestID.String(),
		TimeRemainingSec: int(key.remaining.Seconds()),
		Message:          warningMessage(key.remaining),
	})
	if err != nil {
		return fmt.Errorf("marshal TimeWarning payload: %w", err)
	}

	// Warnings are ephemeral notifications. Nothing about them is worth an
	// outbox row, so they go straight to the bus.
	event := outbox.OutboxEvent{
		ID:        uuid.New(),
		ContestID: key.contestID,
		EventType: events.TypeTimeWarning,
		Payload:   payload,
		CreatedAt: o.clock.Now(),
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish TimeWarning: %w", err)
	}

	log.Info().
		Str("contest_id", key.contestID.String()).
		Dur("remaining", key.remaining).
		Str("instance", o.instanceID).
		Msg("published time warning")
	return nil
}

// publishContestEnded announces the natural end of a contest. The phase
// flips by derivation once end_time passes; the event exists so rooms hear
// about it without polling.
func (o *Orchestrator) publishContestEnded(ctx context.Context, contestID uuid.UUID) error {
	o.scheduledMu.Lock()
	sched, ok := o.scheduled[contestID]
	o.scheduledMu.Unlock()
	if !ok {
		// Cancelled between firing and processing.
		return nil
	}

	payload, err := json.Marshal(events.ContestEndedPayload{
		ContestID: contestID.String(),
		EndedAt:   sched.EndTime,
		Duration:  sched.EndTime.Sub(sched.StartedAt).String(),
	})
	if err != nil {
		return fmt.Errorf("marshal ContestEnded payload: %w", err)
	}

	event := outbox.OutboxEvent{
		ID:        uuid.New(),
		ContestID: contestID,
		EventType: events.TypeContestEnded,
		Payload:   payload,
		CreatedAt: o.clock.Now(),
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish ContestEnded: %w", err)
	}

	log.Info().
		Str("contest_id", contestID.String()).
		Time("ended_at", sched.EndTime).
		Str("instance", o.instanceID).
		Msg("published natural contest end")

	// The published event comes back through the consumer and cancels the
	// remaining timers for this contest.
	return nil
}

func warningMessage(remaining time.Duration) string {
	minutes := int(remaining.Minutes())
	if minutes == 1 {
		return "1 minute remaining"
	}
	return fmt.Sprintf("%d minutes remaining", minutes)
}
