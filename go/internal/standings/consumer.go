package standings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/kshah22/codeclash/go/internal/common"
	"github.com/kshah22/codeclash/go/internal/events"
)

// EventConsumerConfig holds configuration for the standings event consumer
type EventConsumerConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultEventConsumerConfig returns default standings consumer configuration
func DefaultEventConsumerConfig() EventConsumerConfig {
	return EventConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    events.ContestStreamName,
		ConsumerName:  "standings-aggregator",
		SubjectFilter: events.ContestSubjectFilter,
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// EventConsumer drives the aggregator from contest events: judged
// submissions trigger recomputes, freeze pins the snapshot, unfreeze
// reveals.
type EventConsumer struct {
	app      *App
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   EventConsumerConfig
}

// NewEventConsumer creates a new standings event consumer
func NewEventConsumer(app *App, config EventConsumerConfig) (*EventConsumer, error) {
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
		app:    app,
		nc:     nc,
		js:     js,
		config: config,
	}

	if err := ec.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}

	return ec, nil
}

func (ec *EventConsumer) ensureConsumer(ctx context.Context) error {
	stream, err := ec.js.Stream(ctx, ec.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          ec.config.ConsumerName,
		Durable:       ec.config.ConsumerName,
		Description:   "Standings aggregator event consumer",
		FilterSubject: ec.config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverAllPolicy, // Recompute converges, replay is safe
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

// Start begins consuming contest events. Blocks until ctx is canceled.
func (ec *EventConsumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", ec.config.ConsumerName).
		Str("stream", ec.config.StreamName).
		Msg("starting standings event consumer")

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
			log.Info().Msg("standings event consumer shutting down")
			return nil
		case msg := <-messageCh:
			err := ec.processMessage(ctx, msg)
			switch {
			case err == nil:
				if ackErr := msg.Ack(); ackErr != nil {
					log.Error().Err(ackErr).Msg("failed to ACK message")
				}
			case errors.Is(err, common.ErrNotFound):
				// The contest is gone, redelivery cannot help.
				log.Warn().
					Err(err).
					Str("subject", msg.Subject()).
					Msg("dropping event for missing contest")
				if ackErr := msg.Ack(); ackErr != nil {
					log.Error().Err(ackErr).Msg("failed to ACK message")
				}
			default:
				log.Error().
					Err(err).
					Str("subject", msg.Subject()).
					Msg("failed to process contest event")
				if nakErr := msg.Nak(); nakErr != nil {
					log.Error().Err(nakErr).Msg("failed to NAK message")
				}
			}
		}
	}
}

func (ec *EventConsumer) processMessage(ctx context.Context, msg jetstream.Msg) error {
	var envelope events.Envelope
	if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
		return fmt.Errorf("unmarshal event envelope: %w", err)
	}

	contestID, err := uuid.Parse(envelope.ContestID)
	if err != nil {
		return fmt.Errorf("parse contest ID: %w", err)
	}

	log.Debug().
		Str("event_id", envelope.EventID).
		Str("contest_id", envelope.ContestID).
		Str("event_type", envelope.EventType).
		Msg("processing standings event")

	switch envelope.EventType {
	case events.TypeSubmissionJudged:
		return ec.app.RecomputeAndBroadcast(ctx, contestID)
	case events.TypeContestFrozen:
		return ec.app.HandleFrozen(ctx, contestID)
	case events.TypeContestUnfrozen:
		return ec.app.HandleUnfrozen(ctx, contestID)
	case events.TypeContestEnded:
		// The final table may predate the last judged event on redelivery,
		// publish once more so clients end on the true final ranking.
		return ec.app.RecomputeAndBroadcast(ctx, contestID)
	default:
		// Lifecycle events the aggregator has no stake in.
		return nil
	}
}

// Stop gracefully shuts down the consumer
func (ec *EventConsumer) Stop() error {
	log.Info().Msg("stopping standings event consumer")
	if ec.nc != nil {
		ec.nc.Close()
	}
	return nil
}
