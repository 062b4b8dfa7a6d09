package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// scheduleContest sets one-shot timers for every warning mark still ahead of
// the clock plus the natural end. Replayed ContestStarted events carry the
// same started_at and are dropped by the guard, so redelivery never
// double-schedules.
func (o *Orchestrator) scheduleContest(ctx context.Context, contestID uuid.UUID, startedAt, endTime time.Time) error {
	o.scheduledMu.Lock()
	if prev, exists := o.scheduled[contestID]; exists && prev.StartedAt.Equal(startedAt) {
		o.scheduledMu.Unlock()
		log.Debug().
			Str("contest_id", contestID.String()).
			Time("started_at", startedAt).
			Msg("skipping duplicate schedule for this start")
		return nil
	}
	o.scheduled[contestID] = contestSchedule{StartedAt: startedAt, EndTime: endTime}
	o.scheduledMu.Unlock()

	for _, mark := range o.config.WarningMarks {
		o.scheduleTimer(ctx, timerKey{contestID: contestID, remaining: mark}, endTime.Add(-mark))
	}
	o.scheduleTimer(ctx, timerKey{contestID: contestID, remaining: 0}, endTime)

	return nil
}

// scheduleTimer arms a one-shot timer for the key. Warning marks already in
// the past are dropped on replay; a past natural end fires immediately so a
// restart still announces contests that ran out while we were down.
func (o *Orchestrator) scheduleTimer(ctx context.Context, key timerKey, fireAt time.Time) {
	duration := fireAt.Sub(o.clock.Now())
	if duration <= 0 {
		if key.remaining == 0 {
			o.enqueue(key)
		}
		return
	}

	timer := o.clock.NewTimer(duration)
	o.replaceTimer(key, timer)

	go func(key timerKey, t clockwork.Timer) {
		select {
		case <-t.Chan():
			o.removeTimer(key)
			o.enqueue(key)
		case <-ctx.Done():
			stopAndDrainTimer(t)
			o.removeTimer(key)
		}
	}(key, timer)

	log.Debug().
		Str("contest_id", key.contestID.String()).
		Dur("remaining_at_fire", key.remaining).
		Time("fire_at", fireAt).
		Msg("scheduled one-shot timer")
}

func (o *Orchestrator) enqueue(key timerKey) {
	select {
	case o.workCh <- key:
	default:
		log.Warn().
			Str("contest_id", key.contestID.String()).
			Dur("remaining", key.remaining).
			Msg("timer fired but work channel full")
	}
}

// replaceTimer atomically replaces a timer for a key, cancelling any timer
// already armed for it.
func (o *Orchestrator) replaceTimer(key timerKey, newTimer clockwork.Timer) {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()

	if existing, exists := o.activeTimers[key]; exists {
		stopAndDrainTimer(existing)
	}
	o.activeTimers[key] = newTimer
}

// cancelContest stops and removes every timer belonging to a contest and
// forgets its schedule.
func (o *Orchestrator) cancelContest(contestID uuid.UUID) {
	o.activeTimersMu.Lock()
	for key, timer := range o.activeTimers {
		if key.contestID == contestID {
			stopAndDrainTimer(timer)
			delete(o.activeTimers, key)
		}
	}
	o.activeTimersMu.Unlock()

	o.scheduledMu.Lock()
	delete(o.scheduled, contestID)
	o.scheduledMu.Unlock()
}

// removeTimer drops a timer from the active map once it has fired.
func (o *Orchestrator) removeTimer(key timerKey) {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()
	delete(o.activeTimers, key)
}

// stopAndDrainTimer stops a timer and drains any value already buffered in
// its channel so a cancelled mark cannot fire afterwards.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

// activeTimerCount reports how many timers are currently armed.
func (o *Orchestrator) activeTimerCount() int {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()
	return len(o.activeTimers)
}
