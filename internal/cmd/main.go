package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/AddisonGoolsbee/thebutton/internal/readcache"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("Could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	config, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Warn().Err(err).Msg("Using default configuration")
		config = defaultConfig()
	}

	database, err := setupDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to setup database")
	}
	defer database.Close()

	services, err := setupServices(database, config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to setup services")
	}

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := services.Store.EnsureSchema(schemaCtx); err != nil {
		schemaCancel()
		log.Fatal().Err(err).Msg("Failed to ensure schema")
	}
	schemaCancel()

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Peer updates invalidate the local cache and feed the live hub.
	if services.Bus != nil {
		defer services.Bus.Close()
		err := services.Bus.SubscribeTotals(func(upd readcache.TotalUpdate) {
			services.Cache.InvalidateAll()
			services.Hub.BroadcastTotal(upd.Total)
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to subscribe to total updates")
		}
	}

	go services.Hub.Start(ctx)

	server := setupServer(services, config)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Button server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	cancel()
	log.Info().Msg("Button server shutdown complete")
}
