package contest

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kshah22/codeclash/go/internal/auth"
	"github.com/kshah22/codeclash/go/internal/common"
	"github.com/kshah22/codeclash/go/internal/models"
)

// ContestApp defines what the service layer needs from the contest app
type ContestApp interface {
	CreateContest(ctx context.Context, actor auth.Actor, req CreateContestRequest) (*models.Contest, error)
	GetContest(ctx context.Context, id uuid.UUID) (*models.Contest, error)
	ListContests(ctx context.Context) ([]models.Contest, error)
	Describe(c *models.Contest) DerivedStatus
	StartContest(ctx context.Context, actor auth.Actor, id uuid.UUID) (*models.Contest, error)
	FreezeContest(ctx context.Context, actor auth.Actor, id uuid.UUID) (*models.Contest, error)
	UnfreezeContest(ctx context.Context, actor auth.Actor, id uuid.UUID) (*models.Contest, error)
	EndContest(ctx context.Context, actor auth.Actor, id uuid.UUID) (*models.Contest, error)
}

// Service exposes contest lifecycle operations over HTTP.
type Service struct {
	app  ContestApp
	auth *auth.Auth
}

// NewService creates a new contest Service
func NewService(app ContestApp, authn *auth.Auth) *Service {
	return &Service{
		app:  app,
		auth: authn,
	}
}

// RegisterRoutes mounts the contest routes. Reads are public; creation
// and lifecycle transitions require an admin token.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Get("/", s.listContests)
	r.Get("/{contestID}", s.getContest)
	r.Get("/{contestID}/status", s.getStatus)

	r.Group(func(admin chi.Router) {
		admin.Use(s.auth.Authenticator)
		admin.Use(s.auth.RequireAdmin)
		admin.Post("/", s.createContest)
		admin.Post("/{contestID}/start", s.startContest)
		admin.Post("/{contestID}/freeze", s.freezeContest)
		admin.Post("/{contestID}/unfreeze", s.unfreezeContest)
		admin.Post("/{contestID}/end", s.endContest)
	})
}

func (s *Service) listContests(w http.ResponseWriter, r *http.Request) {
	contests, err := s.app.ListContests(r.Context())
	if err != nil {
		common.RespondWithError(w, err)
		return
	}

	out := make([]ContestResponse, 0, len(contests))
	for i := range contests {
		c := &contests[i]
		out = append(out, ContestResponse{Contest: c, Status: s.app.Describe(c).Snapshot})
	}
	common.RespondWithJSON(w, http.StatusOK, out)
}

func (s *Service) getContest(w http.ResponseWriter, r *http.Request) {
	id, err := contestIDParam(r)
	if err != nil {
		common.RespondWithError(w, err)
		return
	}

	c, err := s.app.GetContest(r.Context(), id)
	if err != nil {
		common.RespondWithError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, ContestResponse{Contest: c, Status: s.app.Describe(c).Snapshot})
}

func (s *Service) getStatus(w http.ResponseWriter, r *http.Request) {
	id, err := contestIDParam(r)
	if err != nil {
		common.RespondWithError(w, err)
		return
	}

	c, err := s.app.GetContest(r.Context(), id)
	if err != nil {
		common.RespondWithError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, s.app.Describe(c))
}

func (s *Service) createContest(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, common.Errorf("%w: missing actor context", common.ErrAuthentication))
		return
	}

	var req CreateContestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, common.Errorf("%w: invalid request body", common.ErrValidation))
		return
	}

	c, err := s.app.CreateContest(r.Context(), actor, req)
	if err != nil {
		common.RespondWithError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, ContestResponse{Contest: c, Status: s.app.Describe(c).Snapshot})
}

func (s *Service) startContest(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.app.StartContest)
}

func (s *Service) freezeContest(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.app.FreezeContest)
}

func (s *Service) unfreezeContest(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.app.UnfreezeContest)
}

func (s *Service) endContest(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.app.EndContest)
}

func (s *Service) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, auth.Actor, uuid.UUID) (*models.Contest, error)) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, common.Errorf("%w: missing actor context", common.ErrAuthentication))
		return
	}

	id, err := contestIDParam(r)
	if err != nil {
		common.RespondWithError(w, err)
		return
	}

	c, err := op(r.Context(), actor, id)
	if err != nil {
		common.RespondWithError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, ContestResponse{Contest: c, Status: s.app.Describe(c).Snapshot})
}

func contestIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "contestID"))
	if err != nil {
		return uuid.Nil, common.Errorf("%w: invalid contest id", common.ErrValidation)
	}
	return id, nil
}
