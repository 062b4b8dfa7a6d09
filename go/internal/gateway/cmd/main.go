package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kshah22/codeclash/go/internal/auth"
	"github.com/kshah22/codeclash/go/internal/contest"
	"github.com/kshah22/codeclash/go/internal/dbconfig"
	"github.com/kshah22/codeclash/go/internal/gateway"
	"github.com/kshah22/codeclash/go/internal/outbox"
	"github.com/kshah22/codeclash/go/internal/standings"
	"github.com/kshah22/codeclash/go/internal/submission"
)

// Standalone gateway binary: WebSocket fan-out plus the state resync
// endpoint, deployable separately from the API server.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	port := getEnv("GATEWAY_PORT", "8081")
	natsURL := getEnv("NATS_URL", "nats://localhost:4222")
	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	jwtSecret := getEnv("JWT_SECRET", "dev-secret")

	dbCfg := dbconfig.NewConfigFromEnv()

	db, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	log.Info().
		Str("database", dbCfg.Database).
		Str("nats_url", natsURL).
		Str("redis_addr", redisAddr).
		Str("port", port).
		Msg("starting contest gateway")

	authn := auth.New([]byte(jwtSecret))

	// The publisher ensures the contest stream exists before the
	// gateway consumer attaches to it.
	publisherCfg := outbox.DefaultJetStreamConfig()
	publisherCfg.URL = natsURL
	publisher, err := outbox.NewJetStreamPublisher(publisherCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create JetStream publisher")
	}
	defer publisher.Close()

	standingsApp := setupStandingsApp(db, rdb, publisher)
	contestApp := setupContestApp(db)

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.JetStreamConfig.URL = natsURL

	stateProvider := gateway.NewContestStateProvider(contestApp, standingsApp)

	gatewayService, err := gateway.NewService(gatewayConfig, authn, standingsApp, stateProvider)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway service")
	}

	router := chi.NewRouter()
	router.Use(gateway.CORSMiddleware)
	router.Use(authn.Verifier())

	gatewayService.RegisterRoutes(router)
	router.Route("/api/v1/contests", func(r chi.Router) {
		gatewayService.RegisterStateRoutes(r)
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()

	// Give services time to clean up
	time.Sleep(1 * time.Second)

	log.Info().Msg("contest gateway shutdown complete")
}

func setupContestApp(db *sql.DB) *contest.App {
	outboxRepo := outbox.NewRepository(db)
	repo := contest.NewRepository(db, outboxRepo)
	return contest.NewApp(repo, clockwork.NewRealClock())
}

func setupStandingsApp(db *sql.DB, rdb *redis.Client, publisher outbox.Publisher) *standings.App {
	outboxRepo := outbox.NewRepository(db)
	subsRepo := submission.NewRepository(db, outboxRepo)
	teamsRepo := standings.NewRepository(db)
	cache := standings.NewSnapshotCache(rdb, standings.DefaultSnapshotTTL)

	contestRepo := contest.NewRepository(db, outboxRepo)

	return standings.NewApp(teamsRepo, subsRepo, contestRepo, cache, publisher, clockwork.NewRealClock())
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
