package scoring

import (
	"sort"

	"github.com/google/uuid"

	"github.com/kshah22/codeclash/go/internal/models"
)

// Score computes the points for a judged submission from its per-test-case
// results and the problem's weights. Results are matched to weights by test
// case id, not position, so a reordered result set scores identically. The
// sum is capped at maxPoints, and a submission is solved only on full
// credit. Pure function: scoring the same inputs twice yields the same
// output.
func Score(results []models.TestCaseResult, weights map[uuid.UUID]int, maxPoints int) (points int, solved bool) {
	seen := make(map[uuid.UUID]bool, len(results))
	for _, res := range results {
		if seen[res.TestCaseID] {
			continue
		}
		seen[res.TestCaseID] = true
		if res.Passed {
			points += weights[res.TestCaseID]
		}
	}
	if points > maxPoints {
		points = maxPoints
	}
	solved = maxPoints > 0 && points == maxPoints
	return points, solved
}

// FailAll synthesizes a failed result for every test case, used when
// compilation fails before any case runs. Results are ordered by test case
// id so repeated synthesis is identical.
func FailAll(weights map[uuid.UUID]int, message string) []models.TestCaseResult {
	ids := make([]uuid.UUID, 0, len(weights))
	for id := range weights {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})

	results := make([]models.TestCaseResult, 0, len(ids))
	for _, id := range ids {
		msg := message
		results = append(results, models.TestCaseResult{
			TestCaseID: id,
			Passed:     false,
			Weight:     weights[id],
			Error:      &msg,
		})
	}
	return results
}

// alignWeights stamps the authoritative weight onto each result so the
// stored results carry the weights they were scored with.
func alignWeights(results []models.TestCaseResult, weights map[uuid.UUID]int) []models.TestCaseResult {
	out := make([]models.TestCaseResult, len(results))
	for i, res := range results {
		res.Weight = weights[res.TestCaseID]
		out[i] = res
	}
	return out
}
