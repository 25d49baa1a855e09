package main

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/AddisonGoolsbee/thebutton/internal/clicks"
	"github.com/AddisonGoolsbee/thebutton/internal/counter"
	"github.com/AddisonGoolsbee/thebutton/internal/gateway"
	"github.com/AddisonGoolsbee/thebutton/internal/identity"
	"github.com/AddisonGoolsbee/thebutton/internal/readcache"
	"github.com/AddisonGoolsbee/thebutton/internal/verify"
)

const defaultSiteverifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

type Services struct {
	Clicks *clicks.Service
	Hub    *gateway.Hub
	Bus    *readcache.Bus
	Store  *counter.Repository
	Cache  readcache.Cache
}

// totalFanout pushes accepted totals to the live feed and, when a bus is
// configured, to peer instances.
type totalFanout struct {
	hub *gateway.Hub
	bus *readcache.Bus
}

func (f *totalFanout) AnnounceTotal(total uint64) {
	f.hub.BroadcastTotal(total)
	if f.bus != nil {
		f.bus.PublishTotal(total)
	}
}

func setupServices(database *sql.DB, config *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Store layer → verification gate → submission app → HTTP service

	clock := clockwork.NewRealClock()

	secret := os.Getenv("IDENTITY_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("IDENTITY_SECRET environment variable is required")
	}
	hasher := identity.NewHasher(secret)

	exempt, err := identity.NewExemptList(config.ExemptNetworks)
	if err != nil {
		return nil, fmt.Errorf("parse exempt networks: %w", err)
	}

	policy := counter.RatePolicy{
		Window:       time.Duration(config.Limits.RateWindowSeconds) * time.Second,
		MaxPerWindow: config.Limits.RateMaxPerWindow,
	}
	store := counter.NewRepository(database, clock, policy)

	verifier := verify.NewClient(
		getEnv("SITEVERIFY_URL", defaultSiteverifyURL),
		os.Getenv("SITEVERIFY_SECRET"),
		time.Duration(getEnvAsInt("SITEVERIFY_TIMEOUT_SECONDS", 5))*time.Second,
	)
	verifyRepo := verify.NewRepository(database)
	verifyWindow := time.Duration(config.Limits.VerifyWindowMinutes) * time.Minute
	gate := verify.NewApp(verifier, verifyRepo, exempt, verifyWindow, clock)

	cache := readcache.NewMemory(clock)
	hub := gateway.NewHub(gateway.DefaultConfig())

	var bus *readcache.Bus
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		bus, err = readcache.NewBus(readcache.BusConfig{
			URL:           natsURL,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("setup total update bus: %w", err)
		}
	}

	clicksCfg := clicks.Config{
		CacheTTL:     time.Duration(config.Limits.CacheTTLSeconds) * time.Second,
		StoreTimeout: time.Duration(getEnvAsInt("STORE_TIMEOUT_SECONDS", 5)) * time.Second,
	}
	app := clicks.NewApp(store, gate, cache, &totalFanout{hub: hub, bus: bus}, hasher, clicksCfg)
	service := clicks.NewService(app, clicksCfg.CacheTTL)

	return &Services{
		Clicks: service,
		Hub:    hub,
		Bus:    bus,
		Store:  store,
		Cache:  cache,
	}, nil
}
