package clock

import (
	"math"
	"time"

	"github.com/kshah22/codeclash/go/internal/models"
)

// Snapshot is the derived view of a contest's phase at a single instant.
// Every field is computed from the same now argument so the fields are
// mutually consistent.
type Snapshot struct {
	Status             models.ContestStatus `json:"status"`
	TimeRemainingSec   int                  `json:"time_remaining_sec"`
	TimeUntilStartSec  int                  `json:"time_until_start_sec"`
	TimeUntilFreezeSec int                  `json:"time_until_freeze_sec"`
	TimeElapsedSec     int                  `json:"time_elapsed_sec"`
	Progress           float64              `json:"progress"`
	EndTime            time.Time            `json:"end_time"`
	FreezeOffsetTime   time.Time            `json:"freeze_offset_time"`
}

// EndTime returns the contest's nominal end instant.
func EndTime(c *models.Contest) time.Time {
	return c.StartTime.Add(time.Duration(c.DurationMinutes) * time.Minute)
}

// FreezeOffsetTime returns the instant the nominal freeze window opens.
// Informational only: the frozen phase comes from the persisted is_frozen
// flag, never from this offset elapsing.
func FreezeOffsetTime(c *models.Contest) time.Time {
	return EndTime(c).Add(-time.Duration(c.FreezeTimeMinutes) * time.Minute)
}

// Phase derives a contest's status and time offsets at now. Pure function:
// no wall-clock reads, no state. now == start_time reports running,
// now >= end_time reports ended.
func Phase(c *models.Contest, now time.Time) Snapshot {
	end := EndTime(c)
	freezeOffset := FreezeOffsetTime(c)

	s := Snapshot{
		EndTime:          end,
		FreezeOffsetTime: freezeOffset,
	}

	switch {
	case now.Before(c.StartTime):
		s.Status = models.ContestStatusNotStarted
	case !now.Before(end):
		s.Status = models.ContestStatusEnded
	case c.IsFrozen:
		s.Status = models.ContestStatusFrozen
	default:
		s.Status = models.ContestStatusRunning
	}

	// Countdowns round up so a running contest never reports zero remaining.
	s.TimeUntilStartSec = secondsUntil(c.StartTime, now)
	s.TimeRemainingSec = secondsUntil(end, now)
	s.TimeUntilFreezeSec = secondsUntil(freezeOffset, now)

	total := end.Sub(c.StartTime)
	elapsed := now.Sub(c.StartTime)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > total {
		elapsed = total
	}
	s.TimeElapsedSec = int(elapsed.Seconds())

	if total > 0 {
		s.Progress = float64(elapsed) / float64(total)
	} else if s.Status == models.ContestStatusEnded {
		s.Progress = 1
	}
	return s
}

func secondsUntil(target, now time.Time) int {
	d := target.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
