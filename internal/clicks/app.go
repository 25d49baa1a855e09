package clicks

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/AddisonGoolsbee/thebutton/internal/counter"
	"github.com/AddisonGoolsbee/thebutton/internal/identity"
	"github.com/AddisonGoolsbee/thebutton/internal/models"
	"github.com/AddisonGoolsbee/thebutton/internal/readcache"
)

// App composes the submission pipeline: validate, gate, accept, invalidate,
// announce. It owns no state of its own; the store is the source of truth.
type App struct {
	store     counter.Store
	auth      Authorizer
	cache     readcache.Cache
	announcer Announcer
	hasher    *identity.Hasher
	cfg       Config
}

func NewApp(store counter.Store, auth Authorizer, cache readcache.Cache, announcer Announcer, hasher *identity.Hasher, cfg Config) *App {
	return &App{
		store:     store,
		auth:      auth,
		cache:     cache,
		announcer: announcer,
		hasher:    hasher,
		cfg:       cfg,
	}
}

// Submit runs one batch through the pipeline and returns the new total.
// The checks short-circuit in order: count bounds, verification gate, rate
// cap. A failure at any stage leaves the counter untouched.
func (a *App) Submit(ctx context.Context, in SubmitInput) (uint64, error) {
	if in.Count < 1 || in.Count > models.MaxBatchCount {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidCount, in.Count)
	}

	hash := a.hasher.Digest(in.RemoteAddr)

	if err := a.auth.Authorize(ctx, hash, in.Token, in.RemoteAddr); err != nil {
		return 0, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	res, err := a.store.TryAcceptBatch(storeCtx, counter.AcceptRequest{
		Count:        in.Count,
		IdentityHash: hash,
		Region:       in.Region,
	})
	if err != nil {
		return 0, fmt.Errorf("accept batch: %w", err)
	}
	if !res.Accepted {
		return 0, ErrRateLimited
	}

	// Readers must see the new total no later than their next uncached
	// fetch, so the cache dies before the response goes out.
	a.cache.InvalidateAll()
	if a.announcer != nil {
		a.announcer.AnnounceTotal(res.NewTotal)
	}

	log.Info().
		Int("count", in.Count).
		Uint64("total", res.NewTotal).
		Msg("Accepted click batch")
	return res.NewTotal, nil
}

// Total serves the shared counter, preferring the read cache. Cache keys
// are derived from the request origin so invalidation can stay coarse.
func (a *App) Total(ctx context.Context, origin string) (uint64, error) {
	key := cacheKey(origin)
	if total, ok := a.cache.Get(key); ok {
		return total, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	total, err := a.store.Total(storeCtx)
	if err != nil {
		return 0, fmt.Errorf("read total: %w", err)
	}

	a.cache.Put(key, total, a.cfg.CacheTTL)
	return total, nil
}

func cacheKey(origin string) string {
	if origin == "" {
		return "total"
	}
	return "total:" + origin
}
