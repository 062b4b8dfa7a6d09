package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/kshah22/codeclash/go/internal/auth"
	"github.com/kshah22/codeclash/go/internal/dbconfig"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var appConfig *Config
	if path := getEnv("CONFIG_PATH", ""); path != "" {
		cfg, err := loadConfig(path)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		appConfig = cfg
	}

	dbCfg := dbconfig.NewConfigFromEnv()
	database, err := setupDatabase(dbCfg)
	if err != nil {
		log.Fatalf("Failed to setup database: %v", err)
	}
	defer database.Close()

	rdb := redis.NewClient(&redis.Options{Addr: getEnv("REDIS_ADDR", "localhost:6379")})
	defer rdb.Close()

	authn := auth.New([]byte(getEnv("JWT_SECRET", "dev-secret")))

	services, err := setupServices(database, rdb, authn, ServiceOptions{
		DatabaseDSN:   dbCfg.DSN(),
		NATSURL:       getEnv("NATS_URL", "nats://localhost:4222"),
		WebhookSecret: getEnv("JUDGE_WEBHOOK_SECRET", "dev-webhook-secret"),
		AppConfig:     appConfig,
	})
	if err != nil {
		log.Fatalf("Failed to setup services: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := services.Listener.Start(ctx); err != nil {
			log.Printf("Outbox listener stopped: %v", err)
		}
	}()
	go func() {
		if err := services.JudgeConsumer.Start(ctx); err != nil {
			log.Printf("Judge consumer stopped: %v", err)
		}
	}()
	go func() {
		if err := services.StandingsConsumer.Start(ctx); err != nil {
			log.Printf("Standings consumer stopped: %v", err)
		}
	}()
	go func() {
		if err := services.Orchestrator.Run(ctx); err != nil {
			log.Printf("Orchestrator stopped: %v", err)
		}
	}()
	go func() {
		if err := services.Gateway.Start(ctx); err != nil {
			log.Printf("Gateway stopped: %v", err)
		}
	}()

	server := setupServer(services, authn, appConfig)

	go func() {
		log.Printf("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %s, shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown failed: %v", err)
	}

	cancel()

	if err := services.Listener.Stop(); err != nil {
		log.Printf("Outbox listener stop failed: %v", err)
	}
	if err := services.JudgeConsumer.Stop(); err != nil {
		log.Printf("Judge consumer stop failed: %v", err)
	}
	if err := services.StandingsConsumer.Stop(); err != nil {
		log.Printf("Standings consumer stop failed: %v", err)
	}
	if err := services.Gateway.Stop(); err != nil {
		log.Printf("Gateway stop failed: %v", err)
	}
	if err := services.Orchestrator.Close(); err != nil {
		log.Printf("Orchestrator close failed: %v", err)
	}
	if err := services.Publisher.Close(); err != nil {
		log.Printf("Publisher close failed: %v", err)
	}

	// Give in-flight handlers time to drain
	time.Sleep(1 * time.Second)

	log.Printf("Shutdown complete")
}
