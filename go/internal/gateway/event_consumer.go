package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/kshah22/codeclash/go/internal/events"
	"github.com/kshah22/codeclash/go/internal/models"
)

// JetStreamConsumerConfig holds configuration for the JetStream consumer
type JetStreamConsumerConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string        // e.g., "contest.events.>"
	MaxDeliver    int           // Max delivery attempts
	AckWait       time.Duration // How long to wait for ack
	MaxAckPending int           // Max messages pending ack
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultJetStreamConsumerConfig returns default JetStream consumer configuration
func DefaultJetStreamConsumerConfig() JetStreamConsumerConfig {
	return JetStreamConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    events.ContestStreamName,
		ConsumerName:  "contest-gateway",
		SubjectFilter: events.ContestSubjectFilter,
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// EventConsumer consumes events from JetStream and broadcasts to WebSocket clients
type EventConsumer struct {
	connectionManager *ConnectionManager
	nc                *nats.Conn
	js                jetstream.JetStream
	consumer          jetstream.Consumer
	config            JetStreamConsumerConfig
}

// NewEventConsumer creates a new JetStream event consumer
func NewEventConsumer(cm *ConnectionManager, config JetStreamConsumerConfig) (*EventConsumer, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ec := &EventConsumer{
		connectionManager: cm,
		nc:                nc,
		js:                js,
		config:            config,
	}

	if err := ec.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}

	return ec, nil
}

// ensureConsumer creates or gets the JetStream consumer
func (ec *EventConsumer) ensureConsumer(ctx context.Context) error {
	stream, err := ec.js.Stream(ctx, ec.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          ec.config.ConsumerName,
		Durable:       ec.config.ConsumerName,
		Description:   "Contest gateway WebSocket consumer",
		FilterSubject: ec.config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy, // Start with latest per subject
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    ec.config.MaxDeliver,
		AckWait:       ec.config.AckWait,
		MaxAckPending: ec.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.Consumer(ctx, ec.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().
			Str("consumer", ec.config.ConsumerName).
			Str("stream", ec.config.StreamName).
			Msg("created JetStream consumer")
	} else {
		log.Info().
			Str("consumer", ec.config.ConsumerName).
			Str("stream", ec.config.StreamName).
			Msg("using existing JetStream consumer")
	}

	ec.consumer = consumer
	return nil
}

// Start begins consuming events from JetStream
func (ec *EventConsumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", ec.config.ConsumerName).
		Str("stream", ec.config.StreamName).
		Msg("starting JetStream event consumer")

	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := ec.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event consumer shutting down")
			return nil
		case msg := <-messageCh:
			if err := ec.processMessage(ctx, msg); err != nil {
				log.Error().
					Err(err).
					Str("subject", msg.Subject()).
					Msg("failed to process message")
				// Negative acknowledge to retry
				if nakErr := msg.Nak(); nakErr != nil {
					log.Error().Err(nakErr).Msg("failed to NAK message")
				}
			} else {
				if ackErr := msg.Ack(); ackErr != nil {
					log.Error().Err(ackErr).Msg("failed to ACK message")
				}
			}
		}
	}
}

// processMessage processes a single JetStream message
func (ec *EventConsumer) processMessage(ctx context.Context, msg jetstream.Msg) error {
	var envelope events.Envelope
	if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
		return fmt.Errorf("unmarshal event envelope: %w", err)
	}

	log.Debug().
		Str("event_id", envelope.EventID).
		Str("contest_id", envelope.ContestID).
		Str("event_type", envelope.EventType).
		Str("subject", msg.Subject()).
		Msg("processing JetStream event")

	contestID, err := uuid.Parse(envelope.ContestID)
	if err != nil {
		return fmt.Errorf("parse contest ID: %w", err)
	}

	wsEvent, adminOnly, err := ec.convertToWebSocketEvent(&envelope)
	if err != nil {
		return fmt.Errorf("convert to WebSocket event: %w", err)
	}
	if wsEvent == nil {
		// Event type with no websocket representation.
		return nil
	}

	if adminOnly {
		ec.connectionManager.BroadcastToAdmins(contestID, wsEvent)
	} else {
		ec.connectionManager.BroadcastToContest(contestID, wsEvent)
	}

	log.Debug().
		Str("event_id", envelope.EventID).
		Str("contest_id", envelope.ContestID).
		Str("event_type", envelope.EventType).
		Bool("admin_only", adminOnly).
		Msg("event broadcasted to WebSocket clients")

	return nil
}

// convertToWebSocketEvent translates a domain event to the wire shape
// clients consume. A nil event without error means the type is not
// broadcast (ContestCreated, ContestUnfrozen: the reveal leaderboard
// update already carries the unfreeze to every connection).
func (ec *EventConsumer) convertToWebSocketEvent(envelope *events.Envelope) (*ContestEvent, bool, error) {
	var (
		wsType    EventType
		data      interface{}
		adminOnly bool
	)

	switch envelope.EventType {
	case events.TypeContestStarted:
		var p events.ContestStartedPayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return nil, false, fmt.Errorf("unmarshal %s payload: %w", envelope.EventType, err)
		}
		wsType = EventTypeContestStarted
		data = LifecycleData{ContestID: p.ContestID, Timestamp: p.StartedAt}

	case events.TypeContestFrozen:
		var p events.ContestFrozenPayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return nil, false, fmt.Errorf("unmarshal %s payload: %w", envelope.EventType, err)
		}
		wsType = EventTypeContestFrozen
		data = LifecycleData{ContestID: p.ContestID, Timestamp: p.FrozenAt}

	case events.TypeContestEnded:
		var p events.ContestEndedPayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return nil, false, fmt.Errorf("unmarshal %s payload: %w", envelope.EventType, err)
		}
		wsType = EventTypeContestEnded
		data = LifecycleData{ContestID: p.ContestID, Timestamp: p.EndedAt}

	case events.TypeTimeWarning:
		var p events.TimeWarningPayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return nil, false, fmt.Errorf("unmarshal %s payload: %w", envelope.EventType, err)
		}
		wsType = EventTypeTimeWarning
		data = TimeWarningData{TimeRemaining: p.TimeRemainingSec, Message: p.Message}

	case events.TypeSubmissionCreated:
		var p events.SubmissionCreatedPayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return nil, false, fmt.Errorf("unmarshal %s payload: %w", envelope.EventType, err)
		}
		wsType = EventTypeSubmissionUpdate
		data = SubmissionUpdateData{
			SubmissionID: p.SubmissionID,
			TeamID:       p.TeamID,
			ProblemID:    p.ProblemID,
			Status:       string(models.SubmissionStatusPending),
		}

	case events.TypeSubmissionJudged:
		var p events.SubmissionJudgedPayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return nil, false, fmt.Errorf("unmarshal %s payload: %w", envelope.EventType, err)
		}
		wsType = EventTypeSubmissionUpdate
		data = SubmissionUpdateData{
			SubmissionID:  p.SubmissionID,
			TeamID:        p.TeamID,
			ProblemID:     p.ProblemID,
			Status:        p.Status,
			Verdict:       p.Verdict,
			ExecutionTime: p.ExecutionTimeMs,
			MemoryUsed:    p.MemoryKb,
		}

	case events.TypeLeaderboardUpdated:
		var p events.LeaderboardUpdatedPayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return nil, false, fmt.Errorf("unmarshal %s payload: %w", envelope.EventType, err)
		}
		wsType = EventTypeLeaderboardUpdate
		data = LeaderboardUpdateData{
			ContestID:  p.ContestID,
			Teams:      p.Teams,
			IsFrozen:   p.IsFrozen,
			LastUpdate: p.LastUpdate,
		}
		// Frozen tables are for admin eyes only.
		adminOnly = p.IsFrozen

	default:
		log.Debug().Str("event_type", envelope.EventType).Msg("skipping event with no websocket mapping")
		return nil, false, nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("marshal websocket payload: %w", err)
	}

	return &ContestEvent{
		ID:        envelope.EventID,
		ContestID: envelope.ContestID,
		Type:      wsType,
		Timestamp: envelope.Timestamp,
		Data:      payload,
	}, adminOnly, nil
}

// Stop gracefully shuts down the event consumer
func (ec *EventConsumer) Stop() error {
	log.Info().Msg("stopping event consumer")

	if ec.nc != nil {
		ec.nc.Close()
	}

	return nil
}

// GetConsumerInfo returns information about the consumer
func (ec *EventConsumer) GetConsumerInfo(ctx context.Context) (*jetstream.ConsumerInfo, error) {
	return ec.consumer.Info(ctx)
}
