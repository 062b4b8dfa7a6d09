package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kshah22/codeclash/go/internal/auth"
	"github.com/kshah22/codeclash/go/internal/common"
)

// WebSocketHandler handles WebSocket upgrade requests for contest connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	auth              *auth.Auth
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, authn *auth.Auth) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		auth:              authn,
	}
}

// HandleContestConnection upgrades the request to a WebSocket connection.
// Clients may authenticate here with a token query parameter or later with
// an authenticate message; anonymous connections are spectators until then.
// A contest_id query parameter joins that room immediately after upgrade.
func (h *WebSocketHandler) HandleContestConnection(w http.ResponseWriter, r *http.Request) {
	var actor *auth.Actor
	if token := r.URL.Query().Get("token"); token != "" {
		a, err := h.auth.ParseToken(token)
		if err != nil {
			common.RespondWithError(w, err)
			return
		}
		actor = &a
	}

	conn, err := h.connectionManager.UpgradeConnection(w, r, actor)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	if contestIDStr := r.URL.Query().Get("contest_id"); contestIDStr != "" {
		contestID, err := uuid.Parse(contestIDStr)
		if err != nil {
			conn.sendError("invalid contest id")
			return
		}
		if actor == nil {
			conn.sendError("authentication required to join a contest")
			return
		}
		h.connectionManager.joinRoom(conn, contestID)
		conn.sendEvent(newAckEvent(EventTypeJoined, contestID.String(), JoinedData{ContestID: contestID.String()}))
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	common.RespondWithJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

// RegisterRoutes mounts the WebSocket routes.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.HandleContestConnection)
	r.Get("/ws/stats", h.HandleConnectionStats)
}
