package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kshah22/codeclash/go/internal/contest"
	"github.com/kshah22/codeclash/go/internal/models"
)

// ContestStateSource is what the provider needs from the contest app.
type ContestStateSource interface {
	GetContest(ctx context.Context, id uuid.UUID) (*models.Contest, error)
	Describe(c *models.Contest) contest.DerivedStatus
}

// ContestStateProvider implements StateProvider over the contest app and
// the standings aggregator.
type ContestStateProvider struct {
	contests  ContestStateSource
	standings LeaderboardProvider
}

// NewContestStateProvider creates a new contest state provider
func NewContestStateProvider(contests ContestStateSource, standings LeaderboardProvider) *ContestStateProvider {
	return &ContestStateProvider{
		contests:  contests,
		standings: standings,
	}
}

// GetContestState retrieves the complete state of a contest. Standings are
// best-effort: a reconnecting client still gets the phase snapshot when the
// table cannot be built.
func (p *ContestStateProvider) GetContestState(ctx context.Context, contestID uuid.UUID, isAdmin bool) (*ContestStateResponse, error) {
	c, err := p.contests.GetContest(ctx, contestID)
	if err != nil {
		return nil, err
	}

	response := &ContestStateResponse{
		Contest: c,
		Status:  p.contests.Describe(c),
	}

	table, ok := p.standings.Snapshot(ctx, contestID, isAdmin)
	if !ok {
		table, err = p.standings.Recompute(ctx, contestID, isAdmin)
		if err != nil {
			log.Warn().Err(err).Str("contest_id", contestID.String()).Msg("state response without standings")
			return response, nil
		}
	}
	response.Standings = table

	return response, nil
}
