package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kshah22/codeclash/go/internal/auth"
)

func setupServer(services *Services, authn *auth.Auth, appConfig *Config) *http.Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	// Verification only stows the token; each handler decides what
	// role it requires.
	router.Use(authn.Verifier())

	// Register services
	registerServices(router, services)

	// Add health check endpoint
	setupHealthCheck(router)

	// Wrap with CORS
	handler := c.Handler(router)

	// Setup HTTP/2 server
	port := getEnv("PORT", "8080")
	if appConfig != nil && appConfig.Server.Port != "" {
		port = appConfig.Server.Port
	}
	return &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

func registerServices(router chi.Router, services *Services) {
	router.Route("/api/v1/contests", func(r chi.Router) {
		services.Contests.RegisterRoutes(r)
		services.Standings.RegisterRoutes(r)
		services.Gateway.RegisterStateRoutes(r)

		r.Route("/{contestID}/submissions", func(sub chi.Router) {
			services.Submissions.RegisterRoutes(sub)
		})
	})

	router.Route("/api/v1/webhooks", func(r chi.Router) {
		services.Scoring.RegisterRoutes(r)
	})

	// WebSocket endpoint and connection stats
	services.Gateway.RegisterRoutes(router)
}

func setupHealthCheck(router chi.Router) {
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Printf("Failed to write health check response: %v", err)
		}
	})
}
