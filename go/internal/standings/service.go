package standings

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kshah22/codeclash/go/internal/auth"
	"github.com/kshah22/codeclash/go/internal/common"
)

// Service exposes the leaderboard over HTTP.
type Service struct {
	app  *App
	auth *auth.Auth
}

// NewService creates a new standings Service
func NewService(app *App, authn *auth.Auth) *Service {
	return &Service{
		app:  app,
		auth: authn,
	}
}

// RegisterRoutes mounts the leaderboard route. The endpoint is public;
// a token only changes which table the caller is shown.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Get("/{contestID}/leaderboard", s.getLeaderboard)
}

func (s *Service) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "contestID"))
	if err != nil {
		common.RespondWithError(w, common.Errorf("%w: invalid contest id", common.ErrValidation))
		return
	}

	isAdmin := false
	if actor, ok := s.auth.ActorFromRequest(r); ok {
		isAdmin = actor.IsAdmin()
	}

	table, ok := s.app.Snapshot(r.Context(), id, isAdmin)
	if !ok {
		// Cold start. Build from the database before answering.
		table, err = s.app.Recompute(r.Context(), id, isAdmin)
		if err != nil {
			common.RespondWithError(w, err)
			return
		}
	}
	common.RespondWithJSON(w, http.StatusOK, table)
}
