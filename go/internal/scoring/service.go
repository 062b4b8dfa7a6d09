package scoring

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kshah22/codeclash/go/internal/common"
)

// WebhookSecretHeader carries the shared secret judges must present.
const WebhookSecretHeader = "X-Webhook-Secret"

// Service exposes the judge webhook for judges that call back over HTTP
// instead of publishing to the results stream.
type Service struct {
	app    *App
	secret string
}

// NewService creates a new scoring webhook Service
func NewService(app *App, secret string) *Service {
	return &Service{
		app:    app,
		secret: secret,
	}
}

// RegisterRoutes mounts the webhook routes
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Post("/judge", s.handleJudgeResult)
}

func (s *Service) handleJudgeResult(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get(WebhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.secret)) != 1 {
		common.RespondWithError(w, common.Errorf("%w: invalid webhook secret", common.ErrAuthentication))
		return
	}

	var payload VerdictPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.RespondWithError(w, common.Errorf("%w: invalid webhook payload", common.ErrValidation))
		return
	}
	defer r.Body.Close()

	if err := s.app.ProcessResult(r.Context(), payload); err != nil {
		log.Printf("Webhook: failed to process verdict for submission %s: %v", payload.SubmissionID, err)
		common.RespondWithError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{
		"message": "verdict processed for submission " + payload.SubmissionID.String(),
	})
}
