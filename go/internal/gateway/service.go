package gateway

import (
	"context"
	"fmt"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kshah22/codeclash/go/internal/auth"
)

// Service is the contest gateway: WebSocket rooms fed by the contest
// event stream, plus the REST state endpoint for reconnecting clients.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	eventConsumer     *EventConsumer
	stateHandler      *StateHandler
}

// Config holds configuration for the contest gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	JetStreamConfig  JetStreamConsumerConfig
}

// DefaultConfig returns default configuration for the contest gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		JetStreamConfig:  DefaultJetStreamConsumerConfig(),
	}
}

// NewService creates a new contest gateway service
func NewService(config Config, authn *auth.Auth, leaderboards LeaderboardProvider, stateProvider StateProvider) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig, authn, leaderboards)

	wsHandler := NewWebSocketHandler(connectionManager, authn)

	eventConsumer, err := NewEventConsumer(connectionManager, config.JetStreamConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create event consumer: %w", err)
	}

	stateHandler := NewStateHandler(stateProvider, authn)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         wsHandler,
		eventConsumer:     eventConsumer,
		stateHandler:      stateHandler,
	}, nil
}

// Start begins the gateway service. Blocks until ctx is canceled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting contest gateway service")

	go s.connectionManager.Start(ctx)

	go func() {
		if err := s.eventConsumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer failed")
		}
	}()

	<-ctx.Done()

	log.Info().Msg("contest gateway service shutting down")
	return s.Stop()
}

// Stop gracefully shuts down the gateway service
func (s *Service) Stop() error {
	if err := s.eventConsumer.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop event consumer")
	}

	// Connection manager stops when its context is cancelled
	log.Info().Msg("contest gateway service stopped")
	return nil
}

// RegisterRoutes mounts the WebSocket routes.
func (s *Service) RegisterRoutes(r chi.Router) {
	s.wsHandler.RegisterRoutes(r)
}

// RegisterStateRoutes mounts the state resync route on a contests subtree.
func (s *Service) RegisterStateRoutes(r chi.Router) {
	s.stateHandler.RegisterStateRoutes(r)
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "contest_gateway"
	stats["status"] = "running"
	return stats
}

// Broadcast fans an event out to a contest room. Used by tests and tools;
// normal traffic arrives through the event consumer.
func (s *Service) Broadcast(contestID uuid.UUID, event *ContestEvent) {
	s.connectionManager.BroadcastToContest(contestID, event)
}
