/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the credit engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load TOML config
  2. Initialize SQLite store
  3. Wire domain services (ledger, ingestion, resolver, reconciler)
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  TOML config file path (optional)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with a config file
  ./server -config=./config.toml

  # Run with an in-memory database on a different port
  ./server -db=":memory:" -port=3000

ENVIRONMENT:
  STRIPE_SECRET_KEY, STRIPE_WEBHOOK_SECRET, CALCOM_API_KEY fill in
  secrets absent from the config file.

SEE ALSO:
  - config/config.go: Configuration precedence
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brighttails/credit-engine/api"
	"github.com/brighttails/credit-engine/bookings"
	"github.com/brighttails/credit-engine/config"
	"github.com/brighttails/credit-engine/ingest"
	"github.com/brighttails/credit-engine/ledger"
	"github.com/brighttails/credit-engine/payments"
	"github.com/brighttails/credit-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "TOML config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		log.WithError(err).Fatal("invalid package catalog")
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Wire domain services
	led := ledger.New(store)

	processor, err := ingest.NewProcessor(led, catalog, cfg.Stripe.WebhookSecret, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize webhook ingestion")
	}

	gateway := payments.NewStripeGateway(cfg.Stripe.SecretKey, log)
	resolver := payments.NewResolver(gateway, catalog, log,
		payments.WithCallTimeout(cfg.StripeTimeout()))

	calClient := bookings.NewCalComClient(cfg.CalCom.APIKey,
		bookings.WithBaseURL(cfg.CalCom.BaseURL),
		bookings.WithTimeout(cfg.CalComTimeout()),
	)
	reconciler := bookings.NewReconciler(calClient, led, store, log)

	// Create router
	handler := api.NewHandler(led, processor, resolver, reconciler, log)
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithFields(logrus.Fields{
			"port": cfg.Server.Port,
			"db":   cfg.Database.Path,
		}).Info("credit engine starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server stopped")
}
