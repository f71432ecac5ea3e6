package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"stigflux/backend/compliance-api/internal/aggregate"
	"stigflux/backend/compliance-api/internal/api"
	"stigflux/backend/compliance-api/internal/catalog"
	"stigflux/backend/compliance-api/internal/events"
	"stigflux/backend/compliance-api/internal/metrics"
	"stigflux/backend/compliance-api/internal/resolve"
	"stigflux/backend/compliance-api/internal/rollup"
	"stigflux/backend/compliance-api/internal/store"
)

// Configuration from environment variables
type Config struct {
	HTTPAddr string
	PGHost   string
	PGPort   string
	PGUser   string
	PGPass   string
	PGDB     string
	NATSURL  string
	LogLevel string
}

// loadConfig loads configuration from environment variables
func loadConfig() *Config {
	return &Config{
		HTTPAddr: getEnv("COMPLIANCE_API_HTTP_ADDR", ":8086"),
		PGHost:   getEnv("PG_HOST", "localhost"),
		PGPort:   getEnv("PG_PORT", "5432"),
		PGUser:   getEnv("PG_USER", "postgres"),
		PGPass:   getEnv("PG_PASS", "password"),
		PGDB:     getEnv("PG_DB", "stigflux"),
		NATSURL:  getEnv("NATS_URL", "nats://localhost:4222"),
		LogLevel: getEnv("LOG_LEVEL", "INFO"),
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	config := loadConfig()

	logLevel := slog.LevelInfo
	if config.LogLevel == "DEBUG" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	logger.Info("Starting StigFlux Compliance API Service",
		"http_addr", config.HTTPAddr,
		"pg_host", config.PGHost,
		"pg_port", config.PGPort,
		"pg_db", config.PGDB,
		"nats_url", config.NATSURL,
		"log_level", config.LogLevel)

	natsConn, err := nats.Connect(config.NATSURL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsConn.Close()
	logger.Info("Connected to NATS")

	dbStore, err := store.NewPostgresStore(config.PGHost, config.PGPort, config.PGUser, config.PGPass, config.PGDB, logger)
	if err != nil {
		logger.Error("Failed to initialize database store", "error", err)
		os.Exit(1)
	}
	defer dbStore.Close()
	logger.Info("Connected to PostgreSQL database")

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	if err := dbStore.EnsureSchema(schemaCtx); err != nil {
		cancelSchema()
		logger.Error("Failed to ensure database schema", "error", err)
		os.Exit(1)
	}
	cancelSchema()

	m := metrics.NewMetrics()
	publisher := events.NewPublisher(natsConn, logger)

	importer := catalog.NewImporter(dbStore, logger).WithMetrics(m)
	resolver, err := resolve.NewResolver(dbStore, logger)
	if err != nil {
		logger.Error("Failed to initialize resolver", "error", err)
		os.Exit(1)
	}
	resolver = resolver.WithMetrics(m)

	aggregator := aggregate.NewEngine(dbStore, resolver, logger).
		WithPublisher(publisher).
		WithMetrics(m)
	overrides := aggregate.NewOverrideManager(dbStore, logger)
	rollups := rollup.NewEngine(dbStore, aggregator, logger)

	apiHandler := api.NewHandler(dbStore, importer, resolver, aggregator, overrides, rollups, publisher, natsConn, logger)

	server := &http.Server{
		Addr:         config.HTTPAddr,
		Handler:      apiHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", "addr", config.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("Compliance API service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("Server exited")
}
