package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/kshah22/codeclash/go/internal/events"
)

func setupNATSConnection(config Config) (*nats.Conn, jetstream.JetStream, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("orchestrator NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("orchestrator NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return nc, js, nil
}

func (o *Orchestrator) ensureConsumer(ctx context.Context) error {
	stream, err := o.js.Stream(ctx, o.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", o.config.StreamName, err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          o.config.ConsumerName,
		Durable:       o.config.ConsumerName,
		Description:   "Contest orchestrator timer consumer with startup replay",
		FilterSubject: o.config.FilterSubject,
		// Replaying the lifecycle rebuilds the timer table after a restart;
		// scheduling is idempotent so old events are harmless.
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    o.config.MaxDeliver,
		AckWait:       o.config.AckWait,
		MaxAckPending: o.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.Consumer(ctx, o.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().Str("consumer", o.config.ConsumerName).Msg("created orchestrator consumer")
	} else {
		log.Info().Str("consumer", o.config.ConsumerName).Msg("using existing orchestrator consumer")
	}

	o.consumer = consumer
	return nil
}

// Run consumes lifecycle events and drives the timer workers until ctx is
// cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.ensureConsumer(ctx); err != nil {
		return err
	}

	log.Info().
		Str("instance", o.instanceID).
		Int("workers", o.config.Workers).
		Msg("orchestrator started")

	eventCh := make(chan jetstream.Msg, 256)
	consumeCtx, err := o.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case eventCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start orchestrator consumer: %w", err)
	}
	defer consumeCtx.Stop()

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	for i := 0; i < o.config.Workers; i++ {
		wg.Add(1)
		go o.worker(workerCtx, &wg, i)
	}

	defer func() {
		cancelWorkers()
		wg.Wait()
		log.Info().Str("instance", o.instanceID).Msg("orchestrator workers stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			o.shutdownTimers()
			return nil
		case msg := <-eventCh:
			if err := o.processEvent(ctx, msg); err != nil {
				log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process orchestrator event")
				msg.Nak()
			} else {
				msg.Ack()
			}
		}
	}
}

func (o *Orchestrator) processEvent(ctx context.Context, msg jetstream.Msg) error {
	var envelope events.Envelope
	if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
		return fmt.Errorf("unmarshal event envelope: %w", err)
	}

	contestID, err := uuid.Parse(envelope.ContestID)
	if err != nil {
		return fmt.Errorf("parse contest ID %q: %w", envelope.ContestID, err)
	}

	return o.HandleContestEvent(ctx, envelope.EventType, contestID, envelope.Payload)
}

// worker drains fired timers and publishes their events.
func (o *Orchestrator) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case key := <-o.workCh:
			if err := o.handleTimer(ctx, key); err != nil {
				log.Error().
					Err(err).
					Str("contest_id", key.contestID.String()).
					Dur("remaining", key.remaining).
					Int("worker_id", workerID).
					Msg("timer handling failed")
			}
		}
	}
}

// shutdownTimers stops every armed timer during shutdown.
func (o *Orchestrator) shutdownTimers() {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()

	for key, timer := range o.activeTimers {
		stopAndDrainTimer(timer)
		log.Debug().
			Str("contest_id", key.contestID.String()).
			Msg("cancelled timer on shutdown")
	}
	o.activeTimers = make(map[timerKey]clockwork.Timer)
}

// Close releases the NATS connection.
func (o *Orchestrator) Close() error {
	if o.nc != nil {
		o.nc.Close()
	}
	return nil
}
