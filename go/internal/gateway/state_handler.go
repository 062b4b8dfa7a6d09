package gateway

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kshah22/codeclash/go/internal/auth"
	"github.com/kshah22/codeclash/go/internal/common"
	"github.com/kshah22/codeclash/go/internal/contest"
	"github.com/kshah22/codeclash/go/internal/models"
)

// StateProvider interface defines methods for retrieving contest state
type StateProvider interface {
	GetContestState(ctx context.Context, contestID uuid.UUID, isAdmin bool) (*ContestStateResponse, error)
}

// ContestStateResponse is the resync snapshot for reconnecting clients:
// the contest, its derived phase, and the standings the caller is allowed
// to see. Clients re-request this instead of relying on event replay.
type ContestStateResponse struct {
	Contest   *models.Contest        `json:"contest"`
	Status    contest.DerivedStatus  `json:"status"`
	Standings *models.StandingsTable `json:"standings,omitempty"`
}

// StateHandler handles HTTP requests for contest state
type StateHandler struct {
	stateProvider StateProvider
	auth          *auth.Auth
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider, authn *auth.Auth) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
		auth:          authn,
	}
}

// HandleGetContestState handles GET /api/v1/contests/{contestID}/state
func (h *StateHandler) HandleGetContestState(w http.ResponseWriter, r *http.Request) {
	contestID, err := uuid.Parse(chi.URLParam(r, "contestID"))
	if err != nil {
		common.RespondWithError(w, common.Errorf("%w: invalid contest id", common.ErrValidation))
		return
	}

	isAdmin := false
	if actor, ok := h.auth.ActorFromRequest(r); ok {
		isAdmin = actor.IsAdmin()
	}

	state, err := h.stateProvider.GetContestState(r.Context(), contestID, isAdmin)
	if err != nil {
		common.RespondWithError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, state)
}

// RegisterStateRoutes mounts the state route on the contests subtree.
func (h *StateHandler) RegisterStateRoutes(r chi.Router) {
	r.Get("/{contestID}/state", h.HandleGetContestState)
}
