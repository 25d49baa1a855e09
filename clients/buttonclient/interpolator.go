package buttonclient

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Interpolator animates the displayed total toward a moving target. The
// displayed value never decreases and never passes the target; every gap
// closes within the configured bound. Targets that do not raise the current
// one are ignored, which is what absorbs stale poll results.
type Interpolator struct {
	mu    sync.Mutex
	clock clockwork.Clock
	rng   *rand.Rand

	bound     time.Duration
	stepEvery time.Duration
	onUpdate  func(uint64)

	initialized bool
	displayed   uint64
	target      uint64
	deadline    time.Time

	wakeCh chan struct{}
}

type InterpolatorConfig struct {
	// Bound is the longest a gap may take to close.
	Bound time.Duration
	// StepEvery is the base cadence between animation steps; actual steps
	// are jittered around it.
	StepEvery time.Duration
	// OnUpdate fires after every change to the displayed value.
	OnUpdate func(displayed uint64)
}

func NewInterpolator(clock clockwork.Clock, cfg InterpolatorConfig) *Interpolator {
	if cfg.Bound <= 0 {
		cfg.Bound = 2 * time.Second
	}
	if cfg.StepEvery <= 0 {
		cfg.StepEvery = 100 * time.Millisecond
	}
	return &Interpolator{
		clock:     clock,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		bound:     cfg.Bound,
		stepEvery: cfg.StepEvery,
		onUpdate:  cfg.OnUpdate,
		wakeCh:    make(chan struct{}, 1),
	}
}

// SetTarget proposes a new end state for the display. The very first call
// snaps the display into place without animation; after that only targets
// above the current one start a glide.
func (ip *Interpolator) SetTarget(total uint64) {
	ip.mu.Lock()
	if !ip.initialized {
		ip.initialized = true
		if total > ip.displayed {
			ip.displayed = total
		}
		ip.target = ip.displayed
		cb, v := ip.onUpdate, ip.displayed
		ip.mu.Unlock()
		if cb != nil {
			cb(v)
		}
		return
	}
	if total <= ip.target {
		ip.mu.Unlock()
		return
	}
	ip.target = total
	ip.deadline = ip.clock.Now().Add(ip.bound)
	ip.mu.Unlock()
	ip.wake()
}

// AddLocal bumps the display immediately for clicks made on this client.
// Both ends of the animation move together, so an in-flight gap keeps its
// size and cannot overshoot.
func (ip *Interpolator) AddLocal(n uint64) {
	if n == 0 {
		return
	}
	ip.mu.Lock()
	ip.displayed += n
	ip.target += n
	cb, v := ip.onUpdate, ip.displayed
	ip.mu.Unlock()
	if cb != nil {
		cb(v)
	}
}

func (ip *Interpolator) Displayed() uint64 {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.displayed
}

func (ip *Interpolator) Target() uint64 {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.target
}

// Run animates until ctx is cancelled. A single goroutine owns the step
// timer; retargets wake it when a new gap opens.
func (ip *Interpolator) Run(ctx context.Context) {
	timer := ip.clock.NewTimer(ip.stepEvery)
	stopAndDrainTimer(timer)
	armed := false

	for {
		if !armed && ip.gapOpen() {
			timer.Reset(ip.nextInterval())
			armed = true
		}

		select {
		case <-ctx.Done():
			if armed {
				stopAndDrainTimer(timer)
			}
			return
		case <-ip.wakeCh:
			// Retarget; loop to arm the timer if it is not already running.
		case <-timer.Chan():
			armed = false
			ip.step()
		}
	}
}

func (ip *Interpolator) step() {
	ip.mu.Lock()
	if ip.displayed >= ip.target {
		ip.mu.Unlock()
		return
	}

	now := ip.clock.Now()
	remaining := ip.target - ip.displayed
	var inc uint64
	if !now.Before(ip.deadline) {
		// Out of time, land on the target.
		inc = remaining
	} else {
		stepsLeft := uint64(ip.deadline.Sub(now) / ip.stepEvery)
		if stepsLeft < 1 {
			stepsLeft = 1
		}
		inc = remaining / stepsLeft
		if remaining%stepsLeft != 0 {
			inc++
		}
	}

	ip.displayed += inc
	if ip.displayed > ip.target {
		ip.displayed = ip.target
	}
	cb, v := ip.onUpdate, ip.displayed
	ip.mu.Unlock()
	if cb != nil {
		cb(v)
	}
}

// nextInterval jitters the step cadence and clamps it so the last step of a
// glide still lands inside the deadline.
func (ip *Interpolator) nextInterval() time.Duration {
	ip.mu.Lock()
	defer ip.mu.Unlock()

	d := time.Duration(float64(ip.stepEvery) * (0.5 + ip.rng.Float64()))
	if ip.displayed < ip.target {
		until := ip.deadline.Sub(ip.clock.Now())
		if until <= 0 {
			return time.Millisecond
		}
		if d > until {
			d = until
		}
	}
	return d
}

func (ip *Interpolator) gapOpen() bool {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.displayed < ip.target
}

func (ip *Interpolator) wake() {
	select {
	case ip.wakeCh <- struct{}{}:
	default:
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel so a fired
// timer cannot leak a stale tick into the next arm.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
