package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/AddisonGoolsbee/thebutton/clients/buttonclient"
)

// Button bot: clicks the shared button at a steady rate and renders the
// animated total, exercising the full client loop against a live server.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		serverURL = flag.String("server", envOr("BUTTON_SERVER_URL", "http://localhost:8080"), "button server base URL")
		token     = flag.String("token", os.Getenv("BUTTON_TOKEN"), "verification token to attach to batches")
		rate      = flag.Int("rate", 5, "clicks per second to generate")
		duration  = flag.Duration("for", 30*time.Second, "how long to click before flushing and exiting")
	)
	flag.Parse()
	if *rate < 1 {
		*rate = 1
	}

	cfg := buttonclient.DefaultSyncerConfig()
	cfg.OnDisplay = func(total uint64) {
		fmt.Printf("\rshared total: %-12d", total)
	}

	tokens := func(ctx context.Context) (string, error) {
		return *token, nil
	}
	syncer := buttonclient.NewSyncer(buttonclient.NewAPIClient(*serverURL), tokens, clockwork.NewRealClock(), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	syncer.Start(ctx)

	log.Info().
		Str("server", *serverURL).
		Int("rate", *rate).
		Dur("duration", *duration).
		Msg("Button bot clicking")

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	done := time.After(*duration)

	clicked, dropped := 0, 0
loop:
	for {
		select {
		case <-ticker.C:
			if syncer.Click() {
				clicked++
			} else {
				dropped++
			}
		case <-stop:
			break loop
		case <-done:
			break loop
		}
	}

	fmt.Println()
	log.Info().Int("clicked", clicked).Int("dropped", dropped).Msg("Flushing remaining clicks")
	syncer.Close()
	log.Info().Uint64("displayed", syncer.Displayed()).Msg("Button bot done")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
