package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kshah22/codeclash/go/internal/auth"
	"github.com/kshah22/codeclash/go/internal/models"
)

// LeaderboardProvider answers point-to-point leaderboard requests honoring
// the caller's role and the contest's freeze state.
type LeaderboardProvider interface {
	Snapshot(ctx context.Context, contestID uuid.UUID, isAdmin bool) (*models.StandingsTable, bool)
	Recompute(ctx context.Context, contestID uuid.UUID, isAdmin bool) (*models.StandingsTable, error)
}

// ConnectionManager manages WebSocket connections and contest rooms
type ConnectionManager struct {
	// Room membership, both directions, under one lock
	rooms map[uuid.UUID]map[*Connection]bool
	conns map[*Connection]bool
	mu    sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	// Connection configuration
	config ConnectionConfig

	// Event broadcasting
	broadcastCh chan BroadcastMessage

	auth         *auth.Auth
	leaderboards LeaderboardProvider
}

// Connection represents a WebSocket connection to a client. A connection
// starts anonymous; authenticating binds it to exactly one role for its
// lifetime. Auth and room state are guarded by the manager's lock.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	actor         auth.Actor
	authenticated bool
	rooms         map[uuid.UUID]bool

	// done stops the write pump. Send itself is never closed so that
	// concurrent senders cannot hit a closed channel.
	done chan struct{}

	// Connection metadata
	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	ReadBufferSize   int
	WriteBufferSize  int
	CheckOrigin      func(r *http.Request) bool
}

// BroadcastMessage represents a message to broadcast to a contest room
type BroadcastMessage struct {
	ContestID uuid.UUID
	Event     *ContestEvent
	AdminOnly bool // Frozen leaderboards go to admin connections only
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		HandshakeTimeout: 15 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   4096,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, authn *auth.Auth, leaderboards LeaderboardProvider) *ConnectionManager {
	cm := &ConnectionManager{
		rooms: make(map[uuid.UUID]map[*Connection]bool),
		conns: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
			CheckOrigin:      config.CheckOrigin,
		},
		config:       config,
		broadcastCh:  make(chan BroadcastMessage, 1000), // Buffer for high throughput
		auth:         authn,
		leaderboards: leaderboards,
	}

	return cm
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket. The actor is
// non-nil when the client authenticated at upgrade time via query token.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, actor *auth.Actor) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		rooms:       make(map[uuid.UUID]bool),
		done:        make(chan struct{}),
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}
	if actor != nil {
		connection.actor = *actor
		connection.authenticated = true
	}

	cm.registerConnection(connection)

	// Start connection handlers
	go connection.writePump()
	go connection.readPump()

	connection.sendEvent(newAckEvent(EventTypeConnected, "", ConnectedData{ConnectionID: connection.ID}))

	log.Info().
		Str("connection_id", connection.ID).
		Bool("authenticated", actor != nil).
		Msg("WebSocket connection established")

	return connection, nil
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.conns[conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.conns)).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager and every room
// it joined. Safe to call more than once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.conns[conn]; !exists {
		return
	}
	delete(cm.conns, conn)
	close(conn.done)

	for contestID := range conn.rooms {
		if members, ok := cm.rooms[contestID]; ok {
			delete(members, conn)
			// Clean up empty rooms
			if len(members) == 0 {
				delete(cm.rooms, contestID)
			}
		}
	}

	log.Info().
		Str("connection_id", conn.ID).
		Msg("connection unregistered")
}

// authenticateConnection binds an actor to the connection. A connection
// authenticates at most once.
func (cm *ConnectionManager) authenticateConnection(conn *Connection, actor auth.Actor) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conn.authenticated {
		return fmt.Errorf("connection is already authenticated")
	}
	conn.actor = actor
	conn.authenticated = true
	return nil
}

func (cm *ConnectionManager) connectionActor(conn *Connection) (auth.Actor, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return conn.actor, conn.authenticated
}

// joinRoom adds the connection to a contest's fan-out set.
func (cm *ConnectionManager) joinRoom(conn *Connection, contestID uuid.UUID) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.rooms[contestID] == nil {
		cm.rooms[contestID] = make(map[*Connection]bool)
	}
	cm.rooms[contestID][conn] = true
	conn.rooms[contestID] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("contest_id", contestID.String()).
		Int("room_size", len(cm.rooms[contestID])).
		Msg("connection joined room")
}

// leaveRoom removes the connection from a contest's fan-out set.
func (cm *ConnectionManager) leaveRoom(conn *Connection, contestID uuid.UUID) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	delete(conn.rooms, contestID)
	if members, ok := cm.rooms[contestID]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(cm.rooms, contestID)
		}
	}
}

// BroadcastToContest sends an event to all connections in a contest room
func (cm *ConnectionManager) BroadcastToContest(contestID uuid.UUID, event *ContestEvent) {
	cm.broadcast(BroadcastMessage{ContestID: contestID, Event: event})
}

// BroadcastToAdmins sends an event to the admin connections in a contest room
func (cm *ConnectionManager) BroadcastToAdmins(contestID uuid.UUID, event *ContestEvent) {
	cm.broadcast(BroadcastMessage{ContestID: contestID, Event: event, AdminOnly: true})
}

func (cm *ConnectionManager) broadcast(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		log.Warn().Str("contest_id", message.ContestID.String()).Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	members, exists := cm.rooms[message.ContestID]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Create a snapshot of connections to avoid holding lock during broadcast
	var targets []*Connection
	for conn := range members {
		if message.AdminOnly && !(conn.authenticated && conn.actor.IsAdmin()) {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	// Marshal the event once
	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	// Send to all target connections
	for _, conn := range targets {
		select {
		case conn.Send <- eventData:
		default:
			// Connection is slow/dead, close it
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("contest_id", message.ContestID.String()).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	roomCounts := make(map[string]int)
	for contestID, members := range cm.rooms {
		roomCounts[contestID.String()] = len(members)
	}

	return map[string]interface{}{
		"total_connections": len(cm.conns),
		"active_rooms":      len(cm.rooms),
		"room_connections":  roomCounts,
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage processes messages received from the client
func (c *Connection) handleClientMessage(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendError("invalid message format")
		return
	}

	switch msg.Type {
	case ClientMsgAuthenticateTeam:
		c.handleAuthenticate(msg, auth.RoleTeam)
	case ClientMsgAuthenticateAdmin:
		c.handleAuthenticate(msg, auth.RoleAdmin)
	case ClientMsgJoinContest:
		c.handleJoin(msg)
	case ClientMsgLeaveContest:
		c.handleLeave(msg)
	case ClientMsgRequestLeaderboard:
		c.handleRequestLeaderboard(msg)
	default:
		c.sendError(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (c *Connection) handleAuthenticate(msg ClientMessage, wantRole string) {
	if msg.Token == "" {
		c.sendError("token is required")
		return
	}

	actor, err := c.Manager.auth.ParseToken(msg.Token)
	if err != nil {
		c.sendError("invalid token")
		return
	}
	if actor.Role != wantRole {
		c.sendError(fmt.Sprintf("token role is not %s", wantRole))
		return
	}

	if err := c.Manager.authenticateConnection(c, actor); err != nil {
		c.sendError(err.Error())
		return
	}
	c.sendEvent(newAckEvent(EventTypeAuthenticated, "", AuthenticatedData{Role: actor.Role}))

	// Authenticate-and-join in one message when a contest id is included.
	if msg.ContestID != "" {
		c.handleJoin(msg)
	}
}

func (c *Connection) handleJoin(msg ClientMessage) {
	if _, ok := c.Manager.connectionActor(c); !ok {
		c.sendError("authentication required to join a contest")
		return
	}

	contestID, err := uuid.Parse(msg.ContestID)
	if err != nil {
		c.sendError("invalid contest id")
		return
	}

	c.Manager.joinRoom(c, contestID)
	c.sendEvent(newAckEvent(EventTypeJoined, contestID.String(), JoinedData{ContestID: contestID.String()}))
}

func (c *Connection) handleLeave(msg ClientMessage) {
	contestID, err := uuid.Parse(msg.ContestID)
	if err != nil {
		c.sendError("invalid contest id")
		return
	}

	c.Manager.leaveRoom(c, contestID)
	c.sendEvent(newAckEvent(EventTypeLeft, contestID.String(), LeftData{ContestID: contestID.String()}))
}

// handleRequestLeaderboard answers point-to-point from the standings
// snapshot. Anonymous and team connections get the frozen table while the
// contest is frozen; admins get the live one.
func (c *Connection) handleRequestLeaderboard(msg ClientMessage) {
	contestID, err := uuid.Parse(msg.ContestID)
	if err != nil {
		c.sendError("invalid contest id")
		return
	}

	actor, authed := c.Manager.connectionActor(c)
	isAdmin := authed && actor.IsAdmin()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	table, ok := c.Manager.leaderboards.Snapshot(ctx, contestID, isAdmin)
	if !ok {
		table, err = c.Manager.leaderboards.Recompute(ctx, contestID, isAdmin)
		if err != nil {
			log.Error().Err(err).Str("contest_id", contestID.String()).Msg("failed to build leaderboard for request")
			c.sendError("leaderboard unavailable")
			return
		}
	}

	c.sendEvent(newLeaderboardEvent(table))
}

// sendEvent delivers an event to this connection only.
func (c *Connection) sendEvent(event *ContestEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for connection")
		return
	}

	select {
	case c.Send <- data:
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Msg("connection send buffer full, closing connection")
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}
}

func (c *Connection) sendError(message string) {
	c.sendEvent(newAckEvent(EventTypeError, "", ErrorData{Message: message}))
}

func newAckEvent(eventType EventType, contestID string, data interface{}) *ContestEvent {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal ack payload")
		payload = []byte("{}")
	}
	return &ContestEvent{
		ID:        uuid.New().String(),
		ContestID: contestID,
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      payload,
	}
}

func newLeaderboardEvent(table *models.StandingsTable) *ContestEvent {
	data, err := json.Marshal(LeaderboardUpdateData{
		ContestID:  table.ContestID.String(),
		Teams:      table.Rows,
		IsFrozen:   table.IsFrozen,
		LastUpdate: table.LastUpdate,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal leaderboard payload")
		data = []byte("{}")
	}
	return &ContestEvent{
		ID:        uuid.New().String(),
		ContestID: table.ContestID.String(),
		Type:      EventTypeLeaderboardUpdate,
		Timestamp: time.Now(),
		Data:      data,
	}
}
