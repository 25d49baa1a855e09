package buttonclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/AddisonGoolsbee/thebutton/internal/models"
)

// API is the server surface the syncer needs. *APIClient satisfies it;
// tests swap in a scripted fake.
type API interface {
	FetchCount(ctx context.Context) (uint64, error)
	SubmitBatch(ctx context.Context, count int, token string) (uint64, error)
}

// TokenProvider produces a verification token for an outgoing batch. It may
// block on user interaction, so it receives the submission context.
type TokenProvider func(ctx context.Context) (string, error)

type SyncerConfig struct {
	PollInterval   time.Duration
	SubmitInterval time.Duration
	MaxPerBatch    int
	LocalCapPerSec int
	Cooldown       time.Duration
	MaxCooldown    time.Duration
	AnimationBound time.Duration
	StepEvery      time.Duration
	// OnDisplay fires on every change to the displayed total.
	OnDisplay func(uint64)
}

func DefaultSyncerConfig() SyncerConfig {
	return SyncerConfig{
		PollInterval:   2 * time.Second,
		SubmitInterval: time.Second,
		MaxPerBatch:    models.MaxBatchCount,
		LocalCapPerSec: 15,
		Cooldown:       5 * time.Second,
		MaxCooldown:    30 * time.Second,
		AnimationBound: 2 * time.Second,
		StepEvery:      100 * time.Millisecond,
	}
}

// Syncer owns the client side of the loop: accumulate clicks, ship them in
// batches, poll the shared total, and animate the local display. Submission
// failures that are worth retrying put the batch back and start a cooldown;
// terminal rejections drop it.
type Syncer struct {
	api    API
	tokens TokenProvider
	clock  clockwork.Clock
	cfg    SyncerConfig

	acc    *Accumulator
	interp *Interpolator

	mu            sync.Mutex
	cooldownUntil time.Time
	failStreak    int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSyncer(api API, tokens TokenProvider, clock clockwork.Clock, cfg SyncerConfig) *Syncer {
	def := DefaultSyncerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SubmitInterval <= 0 {
		cfg.SubmitInterval = def.SubmitInterval
	}
	if cfg.MaxPerBatch <= 0 {
		cfg.MaxPerBatch = def.MaxPerBatch
	}
	if cfg.LocalCapPerSec <= 0 {
		cfg.LocalCapPerSec = def.LocalCapPerSec
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.MaxCooldown <= 0 {
		cfg.MaxCooldown = def.MaxCooldown
	}
	if cfg.AnimationBound <= 0 {
		cfg.AnimationBound = def.AnimationBound
	}
	if cfg.StepEvery <= 0 {
		cfg.StepEvery = def.StepEvery
	}

	return &Syncer{
		api:    api,
		tokens: tokens,
		clock:  clock,
		cfg:    cfg,
		acc:    NewAccumulator(clock, cfg.LocalCapPerSec),
		interp: NewInterpolator(clock, InterpolatorConfig{
			Bound:     cfg.AnimationBound,
			StepEvery: cfg.StepEvery,
			OnUpdate:  cfg.OnDisplay,
		}),
	}
}

// Start launches the poll, submit and animation loops.
func (s *Syncer) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.interp.Run(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.pollLoop(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.submitLoop(runCtx)
	}()
}

// Click registers one press. Returns false when the local per-second cap
// dropped it; dropped clicks are gone, they neither queue nor display.
func (s *Syncer) Click() bool {
	if !s.acc.Click() {
		return false
	}
	s.interp.AddLocal(1)
	return true
}

// Displayed is the animated total to render.
func (s *Syncer) Displayed() uint64 {
	return s.interp.Displayed()
}

// UnsyncedDelta is how many local clicks the server has not confirmed.
func (s *Syncer) UnsyncedDelta() int {
	return s.acc.UnsyncedDelta()
}

// Close stops the loops, then makes one best-effort attempt to flush what
// is still pending. The flush ignores any active cooldown and drops the
// clicks if it fails.
func (s *Syncer) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	n := s.acc.TakeBatch(s.cfg.MaxPerBatch)
	if n == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	token, err := s.tokens(ctx)
	if err != nil {
		log.Debug().Err(err).Int("count", n).Msg("Final flush skipped, no token")
		return
	}
	if _, err := s.api.SubmitBatch(ctx, n, token); err != nil {
		log.Debug().Err(err).Int("count", n).Msg("Final flush failed")
	}
}

func (s *Syncer) pollLoop(ctx context.Context) {
	s.pollOnce(ctx)

	timer := s.clock.NewTimer(s.cfg.PollInterval)
	defer stopAndDrainTimer(timer)
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
			s.pollOnce(ctx)
			timer.Reset(s.cfg.PollInterval)
		}
	}
}

func (s *Syncer) submitLoop(ctx context.Context) {
	timer := s.clock.NewTimer(s.cfg.SubmitInterval)
	defer stopAndDrainTimer(timer)
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
			s.submitOnce(ctx)
			timer.Reset(s.cfg.SubmitInterval)
		}
	}
}

// pollOnce refreshes the animation target from the server total plus our
// unsynced clicks. A stale read can only produce a lower target, which the
// interpolator ignores.
func (s *Syncer) pollOnce(ctx context.Context) {
	total, err := s.api.FetchCount(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Count poll failed")
		return
	}
	s.interp.SetTarget(total + uint64(s.acc.UnsyncedDelta()))
}

func (s *Syncer) submitOnce(ctx context.Context) {
	s.mu.Lock()
	cooling := s.clock.Now().Before(s.cooldownUntil)
	s.mu.Unlock()
	if cooling {
		return
	}

	n := s.acc.TakeBatch(s.cfg.MaxPerBatch)
	if n == 0 {
		return
	}

	token, err := s.tokens(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Token provider failed")
		s.acc.ReturnBatch(n)
		s.backOff()
		return
	}

	total, err := s.api.SubmitBatch(ctx, n, token)
	switch {
	case err == nil:
		s.acc.AckBatch(n)
		s.clearBackoff()
		s.interp.SetTarget(total + uint64(s.acc.UnsyncedDelta()))
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrBotRejected):
		// Resubmitting these would fail the same way forever.
		s.acc.AckBatch(n)
		log.Warn().Err(err).Int("count", n).Msg("Batch dropped")
	case errors.Is(err, ErrRateLimited):
		s.acc.ReturnBatch(n)
		s.backOff()
		log.Info().Err(err).Int("count", n).Msg("Rate limited, batch held for retry")
	default:
		s.acc.ReturnBatch(n)
		s.backOff()
		log.Warn().Err(err).Int("count", n).Msg("Submission failed, batch held for retry")
	}
}

func (s *Syncer) backOff() {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.cfg.Cooldown
	for i := 0; i < s.failStreak && d < s.cfg.MaxCooldown; i++ {
		d *= 2
	}
	if d > s.cfg.MaxCooldown {
		d = s.cfg.MaxCooldown
	}
	s.failStreak++
	s.cooldownUntil = s.clock.Now().Add(d)
}

func (s *Syncer) clearBackoff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStreak = 0
	s.cooldownUntil = time.Time{}
}
