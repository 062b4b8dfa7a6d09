package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/kshah22/codeclash/go/internal/common"
	"github.com/kshah22/codeclash/go/internal/events"
)

// JudgeConsumerConfig holds configuration for the judge results consumer
type JudgeConsumerConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration
}

// DefaultJudgeConsumerConfig returns default judge consumer configuration
func DefaultJudgeConsumerConfig() JudgeConsumerConfig {
	return JudgeConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    events.JudgeStreamName,
		ConsumerName:  "scoring-engine",
		SubjectFilter: events.JudgeSubjectFilter,
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		MaxAge:        24 * time.Hour,
	}
}

// JudgeConsumer consumes verdicts published by external judges and feeds
// them to the scoring app.
type JudgeConsumer struct {
	app      *App
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   JudgeConsumerConfig
}

// NewJudgeConsumer creates a new judge results consumer. The results
// stream is created on demand because judges only publish to it.
func NewJudgeConsumer(app *App, config JudgeConsumerConfig) (*JudgeConsumer, error) {
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

	jc := &JudgeConsumer{
		app:    app,
		nc:     nc,
		js:     js,
		config: config,
	}

	if err := jc.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}

	return jc, nil
}

func (jc *JudgeConsumer) ensureConsumer(ctx context.Context) error {
	stream, err := jc.js.Stream(ctx, jc.config.StreamName)
	if err != nil {
		stream, err = jc.js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        jc.config.StreamName,
			Description: "Verdicts reported by external judges",
			Subjects:    []string{jc.config.SubjectFilter},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      jc.config.MaxAge,
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().
			Str("stream", jc.config.StreamName).
			Msg("created JetStream stream")
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          jc.config.ConsumerName,
		Durable:       jc.config.ConsumerName,
		Description:   "Scoring engine verdict consumer",
		FilterSubject: jc.config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverAllPolicy, // Never skip a verdict
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    jc.config.MaxDeliver,
		AckWait:       jc.config.AckWait,
		MaxAckPending: jc.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.Consumer(ctx, jc.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().
			Str("consumer", jc.config.ConsumerName).
			Str("stream", jc.config.StreamName).
			Msg("created JetStream consumer")
	} else {
		log.Info().
			Str("consumer", jc.config.ConsumerName).
			Str("stream", jc.config.StreamName).
			Msg("using existing JetStream consumer")
	}

	jc.consumer = consumer
	return nil
}

// Start begins consuming judge verdicts. Blocks until ctx is canceled.
func (jc *JudgeConsumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", jc.config.ConsumerName).
		Str("stream", jc.config.StreamName).
		Msg("starting judge results consumer")

	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := jc.consumer.Consume(func(msg jetstream.Msg) {
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
			log.Info().Msg("judge results consumer shutting down")
			return nil
		case msg := <-messageCh:
			err := jc.processMessage(ctx, msg)
			switch {
			case err == nil:
				if ackErr := msg.Ack(); ackErr != nil {
					log.Error().Err(ackErr).Msg("failed to ACK message")
				}
			case errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrValidation):
				// Redelivery cannot fix these, drop the report.
				log.Warn().
					Err(err).
					Str("subject", msg.Subject()).
					Msg("dropping unprocessable judge report")
				if ackErr := msg.Ack(); ackErr != nil {
					log.Error().Err(ackErr).Msg("failed to ACK message")
				}
			default:
				log.Error().
					Err(err).
					Str("subject", msg.Subject()).
					Msg("failed to process judge report")
				if nakErr := msg.Nak(); nakErr != nil {
					log.Error().Err(nakErr).Msg("failed to NAK message")
				}
			}
		}
	}
}

func (jc *JudgeConsumer) processMessage(ctx context.Context, msg jetstream.Msg) error {
	var payload VerdictPayload
	if err := json.Unmarshal(msg.Data(), &payload); err != nil {
		return common.NewValidationError(fmt.Sprintf("malformed judge report: %v", err))
	}

	log.Debug().
		Str("submission_id", payload.SubmissionID.String()).
		Str("status", string(payload.Status)).
		Str("subject", msg.Subject()).
		Msg("processing judge report")

	return jc.app.ProcessResult(ctx, payload)
}

// Stop gracefully shuts down the consumer
func (jc *JudgeConsumer) Stop() error {
	log.Info().Msg("stopping judge results consumer")
	if jc.nc != nil {
		jc.nc.Close()
	}
	return nil
}
