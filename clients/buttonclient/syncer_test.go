package buttonclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedAPI struct {
	mu        sync.Mutex
	total     uint64
	fetchErr  error
	submitErr error
	attempts  []int
	lastToken string
}

func (s *scriptedAPI) FetchCount(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return 0, s.fetchErr
	}
	return s.total, nil
}

func (s *scriptedAPI) SubmitBatch(ctx context.Context, count int, token string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, count)
	s.lastToken = token
	if s.submitErr != nil {
		return 0, s.submitErr
	}
	s.total += uint64(count)
	return s.total, nil
}

func (s *scriptedAPI) submitAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

func (s *scriptedAPI) setSubmitErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitErr = err
}

func (s *scriptedAPI) serverTotal() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func staticToken(token string) TokenProvider {
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}

func newTestSyncer(api API, cfg SyncerConfig) (*Syncer, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return NewSyncer(api, staticToken("tok"), clock, cfg), clock
}

func clickTimes(s *Syncer, n int) {
	for i := 0; i < n; i++ {
		s.Click()
	}
}

func TestPollSetsDisplayTarget(t *testing.T) {
	api := &scriptedAPI{total: 500}
	s, _ := newTestSyncer(api, SyncerConfig{})

	s.pollOnce(context.Background())

	assert.Equal(t, uint64(500), s.Displayed())
}

func TestPollAddsUnsyncedClicks(t *testing.T) {
	api := &scriptedAPI{total: 100}
	s, _ := newTestSyncer(api, SyncerConfig{LocalCapPerSec: 100})

	clickTimes(s, 5)
	s.pollOnce(context.Background())

	assert.Equal(t, uint64(105), s.Displayed())
}

func TestPollFailureLeavesDisplayAlone(t *testing.T) {
	api := &scriptedAPI{total: 100, fetchErr: errors.New("server down")}
	s, _ := newTestSyncer(api, SyncerConfig{})

	s.pollOnce(context.Background())
	assert.Equal(t, uint64(0), s.Displayed())

	api.mu.Lock()
	api.fetchErr = nil
	api.mu.Unlock()
	s.pollOnce(context.Background())
	assert.Equal(t, uint64(100), s.Displayed())
}

func TestSubmitShipsPendingClicks(t *testing.T) {
	api := &scriptedAPI{total: 100}
	s, _ := newTestSyncer(api, SyncerConfig{LocalCapPerSec: 100})

	clickTimes(s, 10)
	s.submitOnce(context.Background())

	require.Equal(t, 1, api.submitAttempts())
	assert.Equal(t, []int{10}, api.attempts)
	assert.Equal(t, "tok", api.lastToken)
	assert.Equal(t, 0, s.UnsyncedDelta())
	assert.Equal(t, uint64(110), api.serverTotal())
}

func TestSubmitSkipsWhenNothingPending(t *testing.T) {
	api := &scriptedAPI{}
	s, _ := newTestSyncer(api, SyncerConfig{})

	s.submitOnce(context.Background())

	assert.Equal(t, 0, api.submitAttempts())
}

func TestSubmitRespectsBatchCeiling(t *testing.T) {
	api := &scriptedAPI{}
	s, _ := newTestSyncer(api, SyncerConfig{LocalCapPerSec: 1000, MaxPerBatch: 200})

	clickTimes(s, 250)
	s.submitOnce(context.Background())
	s.submitOnce(context.Background())

	require.Equal(t, 2, api.submitAttempts())
	assert.Equal(t, []int{200, 50}, api.attempts)
}

func TestRateLimitReturnsBatchAndCoolsDown(t *testing.T) {
	api := &scriptedAPI{submitErr: fmt.Errorf("%w: no detail", ErrRateLimited)}
	s, clock := newTestSyncer(api, SyncerConfig{LocalCapPerSec: 100})

	clickTimes(s, 10)
	s.submitOnce(context.Background())

	require.Equal(t, 1, api.submitAttempts())
	assert.Equal(t, 10, s.UnsyncedDelta(), "rate limited clicks stay queued")

	// Still cooling, nothing goes out.
	s.submitOnce(context.Background())
	assert.Equal(t, 1, api.submitAttempts())

	clock.Advance(5 * time.Second)
	s.submitOnce(context.Background())
	assert.Equal(t, 2, api.submitAttempts())
}

func TestRepeatedFailuresDoubleTheCooldown(t *testing.T) {
	api := &scriptedAPI{submitErr: fmt.Errorf("%w: no detail", ErrRateLimited)}
	s, clock := newTestSyncer(api, SyncerConfig{LocalCapPerSec: 100})

	clickTimes(s, 10)
	s.submitOnce(context.Background())
	require.Equal(t, 1, api.submitAttempts())

	clock.Advance(5 * time.Second)
	s.submitOnce(context.Background())
	require.Equal(t, 2, api.submitAttempts())

	// Second failure doubled the cooldown to 10s.
	clock.Advance(5 * time.Second)
	s.submitOnce(context.Background())
	assert.Equal(t, 2, api.submitAttempts())

	clock.Advance(5 * time.Second)
	s.submitOnce(context.Background())
	assert.Equal(t, 3, api.submitAttempts())
}

func TestCooldownIsCapped(t *testing.T) {
	api := &scriptedAPI{submitErr: fmt.Errorf("%w: no detail", ErrRateLimited)}
	s, clock := newTestSyncer(api, SyncerConfig{LocalCapPerSec: 100, Cooldown: 5 * time.Second, MaxCooldown: 30 * time.Second})

	clickTimes(s, 10)
	for i := 0; i < 6; i++ {
		s.submitOnce(context.Background())
		clock.Advance(30 * time.Second)
	}
	attempts := api.submitAttempts()
	require.GreaterOrEqual(t, attempts, 6, "capped cooldown keeps retries coming every 30s")

	// Even after many failures the wait never exceeds the cap.
	s.submitOnce(context.Background())
	before := api.submitAttempts()
	clock.Advance(30 * time.Second)
	s.submitOnce(context.Background())
	assert.Equal(t, before+1, api.submitAttempts())
}

func TestSuccessResetsTheCooldown(t *testing.T) {
	api := &scriptedAPI{submitErr: fmt.Errorf("%w: no detail", ErrRateLimited)}
	s, clock := newTestSyncer(api, SyncerConfig{LocalCapPerSec: 100})

	clickTimes(s, 10)
	s.submitOnce(context.Background())
	clock.Advance(5 * time.Second)
	s.submitOnce(context.Background())
	require.Equal(t, 2, api.submitAttempts())

	// Third attempt succeeds after the doubled 10s wait.
	api.setSubmitErr(nil)
	clock.Advance(10 * time.Second)
	s.submitOnce(context.Background())
	require.Equal(t, 3, api.submitAttempts())

	// Next failure starts back at the base cooldown.
	api.setSubmitErr(fmt.Errorf("%w: no detail", ErrRateLimited))
	clickTimes(s, 4)
	s.submitOnce(context.Background())
	clock.Advance(5 * time.Second)
	s.submitOnce(context.Background())
	assert.Equal(t, 5, api.submitAttempts())
}

func TestTerminalRejectionDropsTheBatch(t *testing.T) {
	api := &scriptedAPI{submitErr: fmt.Errorf("%w: verification required", ErrBotRejected)}
	s, _ := newTestSyncer(api, SyncerConfig{LocalCapPerSec: 100})

	clickTimes(s, 10)
	s.submitOnce(context.Background())

	require.Equal(t, 1, api.submitAttempts())
	assert.Equal(t, 0, s.UnsyncedDelta(), "rejected clicks are gone for good")

	s.submitOnce(context.Background())
	assert.Equal(t, 1, api.submitAttempts(), "nothing left to resubmit")
}

func TestTransportErrorKeepsClicksForRetry(t *testing.T) {
	api := &scriptedAPI{submitErr: errors.New("connection refused")}
	s, clock := newTestSyncer(api, SyncerConfig{LocalCapPerSec: 100})

	clickTimes(s, 10)
	s.submitOnce(context.Background())
	require.Equal(t, 1, api.submitAttempts())
	assert.Equal(t, 10, s.UnsyncedDelta())

	api.setSubmitErr(nil)
	clock.Advance(5 * time.Second)
	s.submitOnce(context.Background())

	require.Equal(t, 2, api.submitAttempts())
	assert.Equal(t, []int{10, 10}, api.attempts, "same clicks ride the retry")
	assert.Equal(t, 0, s.UnsyncedDelta())
}

func TestTokenProviderFailureHoldsTheBatch(t *testing.T) {
	api := &scriptedAPI{}
	clock := clockwork.NewFakeClock()
	tokens := func(ctx context.Context) (string, error) {
		return "", errors.New("widget not solved")
	}
	s := NewSyncer(api, tokens, clock, SyncerConfig{LocalCapPerSec: 100})

	clickTimes(s, 10)
	s.submitOnce(context.Background())

	assert.Equal(t, 0, api.submitAttempts())
	assert.Equal(t, 10, s.UnsyncedDelta())
}

func TestClickHonorsTheLocalCap(t *testing.T) {
	api := &scriptedAPI{}
	s, _ := newTestSyncer(api, SyncerConfig{LocalCapPerSec: 2})

	assert.True(t, s.Click())
	assert.True(t, s.Click())
	assert.False(t, s.Click())
	assert.Equal(t, uint64(2), s.Displayed())
	assert.Equal(t, 2, s.UnsyncedDelta())
}

func TestCloseFlushesPendingClicks(t *testing.T) {
	api := &scriptedAPI{}
	s, _ := newTestSyncer(api, SyncerConfig{LocalCapPerSec: 100})

	clickTimes(s, 7)
	s.Close()

	require.Equal(t, 1, api.submitAttempts())
	assert.Equal(t, []int{7}, api.attempts)
	assert.Equal(t, uint64(7), api.serverTotal())
}

func TestLoopsDriveSubmissionAndDisplay(t *testing.T) {
	api := &scriptedAPI{}
	s, clock := newTestSyncer(api, SyncerConfig{LocalCapPerSec: 100})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s.Start(ctx)
	startPumper(t, clock)

	clickTimes(s, 5)

	require.Eventually(t, func() bool {
		return api.serverTotal() == 5 && s.UnsyncedDelta() == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(5), s.Displayed())

	s.Close()
}
