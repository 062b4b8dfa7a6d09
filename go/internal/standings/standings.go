package standings

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kshah22/codeclash/go/internal/models"
)

type bestKey struct {
	teamID    uuid.UUID
	problemID uuid.UUID
}

// Build folds judged submissions into a ranked table. Every registered
// team gets a row, scored from its best submission per problem: a later
// resubmission replaces the best only with strictly more points, so
// attempts at the same problem never sum and ties keep the earlier time.
// Ordering: problems solved desc, total points desc, last scoring
// submission asc, then team id for a total order. Pure function of its
// inputs.
func Build(contestID uuid.UUID, teams []models.Team, submissions []models.Submission, now time.Time) models.StandingsTable {
	best := make(map[bestKey]models.Submission)
	for _, sub := range submissions {
		if sub.Status != models.SubmissionStatusJudged {
			continue
		}
		key := bestKey{teamID: sub.TeamID, problemID: sub.ProblemID}
		cur, ok := best[key]
		if !ok || sub.PointsEarned > cur.PointsEarned ||
			(sub.PointsEarned == cur.PointsEarned && sub.SubmittedAt.Before(cur.SubmittedAt)) {
			best[key] = sub
		}
	}

	rows := make([]models.StandingsRow, 0, len(teams))
	for _, team := range teams {
		row := models.StandingsRow{
			TeamID:   team.ID,
			TeamName: team.Name,
		}
		for key, sub := range best {
			if key.teamID != team.ID {
				continue
			}
			row.TotalPoints += sub.PointsEarned
			if sub.Solved {
				row.ProblemsSolved++
			}
			if sub.PointsEarned > 0 && sub.SubmittedAt.After(row.LastSubmissionTime) {
				row.LastSubmissionTime = sub.SubmittedAt
			}
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.ProblemsSolved != b.ProblemsSolved {
			return a.ProblemsSolved > b.ProblemsSolved
		}
		if a.TotalPoints != b.TotalPoints {
			return a.TotalPoints > b.TotalPoints
		}
		if !a.LastSubmissionTime.Equal(b.LastSubmissionTime) {
			return a.LastSubmissionTime.Before(b.LastSubmissionTime)
		}
		return a.TeamID.String() < b.TeamID.String()
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}

	return models.StandingsTable{
		ContestID:  contestID,
		Rows:       rows,
		LastUpdate: now,
	}
}
