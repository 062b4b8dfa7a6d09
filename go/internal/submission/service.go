package submission

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

// SubmissionApp defines what the service layer needs from the submission app
type SubmissionApp interface {
	CreateSubmission(ctx context.Context, actor auth.Actor, contestID uuid.UUID, req CreateSubmissionRequest) (*models.Submission, error)
	GetSubmission(ctx context.Context, actor auth.Actor, id uuid.UUID) (*models.Submission, error)
}

// Service exposes submission intake over HTTP, nested under a contest.
type Service struct {
	app  SubmissionApp
	auth *auth.Auth
}

// NewService creates a new submission Service
func NewService(app SubmissionApp, authn *auth.Auth) *Service {
	return &Service{
		app:  app,
		auth: authn,
	}
}

// RegisterRoutes mounts the submission routes under
// /contests/{contestID}/submissions. Every route needs a token; the app
// layer decides team-vs-admin visibility.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Use(s.auth.Authenticator)
	r.Post("/", s.createSubmission)
	r.Get("/{submissionID}", s.getSubmission)
}

func (s *Service) createSubmission(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, common.Errorf("%w: missing actor context", common.ErrAuthentication))
		return
	}

	contestID, err := uuid.Parse(chi.URLParam(r, "contestID"))
	if err != nil {
		common.RespondWithError(w, common.Errorf("%w: invalid contest id", common.ErrValidation))
		return
	}

	var req CreateSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, common.Errorf("%w: invalid request body", common.ErrValidation))
		return
	}

	sub, err := s.app.CreateSubmission(r.Context(), actor, contestID, req)
	if err != nil {
		common.RespondWithError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, sub)
}

func (s *Service) getSubmission(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, common.Errorf("%w: missing actor context", common.ErrAuthentication))
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "submissionID"))
	if err != nil {
		common.RespondWithError(w, common.Errorf("%w: invalid submission id", common.ErrValidation))
		return
	}

	sub, err := s.app.GetSubmission(r.Context(), actor, id)
	if err != nil {
		common.RespondWithError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, sub)
}
