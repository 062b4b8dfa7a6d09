package main

import (
	"database/sql"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/kshah22/codeclash/go/internal/auth"
	"github.com/kshah22/codeclash/go/internal/contest"
	"github.com/kshah22/codeclash/go/internal/gateway"
	"github.com/kshah22/codeclash/go/internal/orchestrator"
	"github.com/kshah22/codeclash/go/internal/outbox"
	"github.com/kshah22/codeclash/go/internal/scoring"
	"github.com/kshah22/codeclash/go/internal/standings"
	"github.com/kshah22/codeclash/go/internal/submission"
)

type Services struct {
	Contests    *contest.Service
	Submissions *submission.Service
	Scoring     *scoring.Service
	Standings   *standings.Service
	Gateway     *gateway.Service

	Publisher         *outbox.JetStreamPublisher
	Listener          *outbox.Listener
	JudgeConsumer     *scoring.JudgeConsumer
	StandingsConsumer *standings.EventConsumer
	Orchestrator      *orchestrator.Orchestrator
}

type ServiceOptions struct {
	DatabaseDSN   string
	NATSURL       string
	WebhookSecret string
	AppConfig     *Config
}

func setupServices(database *sql.DB, rdb *redis.Client, authn *auth.Auth, opts ServiceOptions) (*Services, error) {
	// Wire up dependency injection chain
	// Repository layer → App layer → Service layer
	clk := clockwork.NewRealClock()

	outboxRepo := outbox.NewRepository(database)

	// Contests
	contestRepo := contest.NewRepository(database, outboxRepo)
	contestApp := contest.NewApp(contestRepo, clk)
	contestService := contest.NewService(contestApp, authn)

	// Submissions
	submissionRepo := submission.NewRepository(database, outboxRepo)
	judgeQueue := submission.NewJudgeQueue(rdb, submission.DefaultQueueKey)
	submissionApp := submission.NewApp(submissionRepo, contestApp, judgeQueue, clk)
	submissionService := submission.NewService(submissionApp, authn)

	// Scoring
	scoringApp := scoring.NewApp(submissionRepo, clk)
	scoringService := scoring.NewService(scoringApp, opts.WebhookSecret)

	// The publisher ensures the contest stream exists before any
	// consumer attaches to it, so it comes first.
	publisherCfg := outbox.DefaultJetStreamConfig()
	publisherCfg.URL = opts.NATSURL
	publisher, err := outbox.NewJetStreamPublisher(publisherCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream publisher: %w", err)
	}

	// Standings
	standingsRepo := standings.NewRepository(database)
	cache := standings.NewSnapshotCache(rdb, standings.DefaultSnapshotTTL)
	standingsApp := standings.NewApp(standingsRepo, submissionRepo, contestApp, cache, publisher, clk)
	standingsService := standings.NewService(standingsApp, authn)

	// Outbox relay from Postgres to JetStream
	listenerCfg := outbox.DefaultListenerConfig()
	listenerCfg.DatabaseURL = opts.DatabaseDSN
	listener, err := outbox.NewListener(outboxRepo, publisher, listenerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create outbox listener: %w", err)
	}

	// Judge results off the bus
	judgeCfg := scoring.DefaultJudgeConsumerConfig()
	judgeCfg.URL = opts.NATSURL
	judgeConsumer, err := scoring.NewJudgeConsumer(scoringApp, judgeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create judge consumer: %w", err)
	}

	// Standings recompute off the bus
	eventCfg := standings.DefaultEventConsumerConfig()
	eventCfg.URL = opts.NATSURL
	standingsConsumer, err := standings.NewEventConsumer(standingsApp, eventCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create standings consumer: %w", err)
	}

	// Orchestrator timers for warnings and the natural end
	orchCfg := orchestrator.DefaultConfig()
	orchCfg.URL = opts.NATSURL
	if appCfg := opts.AppConfig; appCfg != nil {
		if len(appCfg.Orchestrator.WarningMarks) > 0 {
			marks, err := parseDurations(appCfg.Orchestrator.WarningMarks)
			if err != nil {
				return nil, fmt.Errorf("invalid orchestrator warning marks: %w", err)
			}
			orchCfg.WarningMarks = marks
		}
		if appCfg.Orchestrator.Workers > 0 {
			orchCfg.Workers = appCfg.Orchestrator.Workers
		}
	}
	orchCfg.Workers = getEnvAsInt("ORCHESTRATOR_WORKERS", orchCfg.Workers)
	orch, err := orchestrator.NewOrchestrator(orchCfg, publisher, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	// Gateway
	gatewayCfg := gateway.DefaultConfig()
	gatewayCfg.JetStreamConfig.URL = opts.NATSURL
	if appCfg := opts.AppConfig; appCfg != nil {
		ping, err := parseDuration(appCfg.Gateway.PingInterval, gatewayCfg.ConnectionConfig.PingInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid gateway ping interval: %w", err)
		}
		gatewayCfg.ConnectionConfig.PingInterval = ping

		readTimeout, err := parseDuration(appCfg.Gateway.ReadTimeout, gatewayCfg.ConnectionConfig.ReadTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid gateway read timeout: %w", err)
		}
		gatewayCfg.ConnectionConfig.ReadTimeout = readTimeout
	}

	stateProvider := gateway.NewContestStateProvider(contestApp, standingsApp)
	gatewayService, err := gateway.NewService(gatewayCfg, authn, standingsApp, stateProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway service: %w", err)
	}

	return &Services{
		Contests:          contestService,
		Submissions:       submissionService,
		Scoring:           scoringService,
		Standings:         standingsService,
		Gateway:           gatewayService,
		Publisher:         publisher,
		Listener:          listener,
		JudgeConsumer:     judgeConsumer,
		StandingsConsumer: standingsConsumer,
		Orchestrator:      orch,
	}, nil
}
