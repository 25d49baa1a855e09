package counter

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(window time.Duration, cap int) (*MemoryStore, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return NewMemoryStore(clock, RatePolicy{Window: window, MaxPerWindow: cap}), clock
}

func TestTryAcceptBatchIncrementsTotal(t *testing.T) {
	s, _ := newTestStore(time.Minute, 900)
	ctx := context.Background()

	res, err := s.TryAcceptBatch(ctx, AcceptRequest{Count: 47, IdentityHash: "id-a"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, uint64(47), res.NewTotal)

	res, err = s.TryAcceptBatch(ctx, AcceptRequest{Count: 3, IdentityHash: "id-a"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, uint64(50), res.NewTotal)

	total, err := s.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), total)
}

func TestAcceptedBatchesAreAdditive(t *testing.T) {
	s, _ := newTestStore(time.Minute, 10000)
	ctx := context.Background()

	counts := []int{1, 200, 17, 42, 99}
	var want uint64
	for _, c := range counts {
		res, err := s.TryAcceptBatch(ctx, AcceptRequest{Count: c, IdentityHash: "id-a"})
		require.NoError(t, err)
		require.True(t, res.Accepted)
		want += uint64(c)
	}

	total, err := s.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, total)
}

func TestRejectBeyondWindowCap(t *testing.T) {
	s, _ := newTestStore(time.Minute, 100)
	ctx := context.Background()

	res, err := s.TryAcceptBatch(ctx, AcceptRequest{Count: 60, IdentityHash: "id-a"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	// Landing exactly on the cap is allowed, only exceeding it is not.
	res, err = s.TryAcceptBatch(ctx, AcceptRequest{Count: 40, IdentityHash: "id-a"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	res, err = s.TryAcceptBatch(ctx, AcceptRequest{Count: 1, IdentityHash: "id-a"})
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	total, err := s.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), total)
}

func TestRejectedBatchLeavesNoTrace(t *testing.T) {
	s, _ := newTestStore(time.Minute, 100)
	ctx := context.Background()

	res, err := s.TryAcceptBatch(ctx, AcceptRequest{Count: 90, IdentityHash: "id-a"})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	res, err = s.TryAcceptBatch(ctx, AcceptRequest{Count: 20, IdentityHash: "id-a"})
	require.NoError(t, err)
	require.False(t, res.Accepted)

	// The rejected 20 must not count against the window, so 10 still fits.
	res, err = s.TryAcceptBatch(ctx, AcceptRequest{Count: 10, IdentityHash: "id-a"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, uint64(100), res.NewTotal)
}

func TestWindowExpiryFreesBudget(t *testing.T) {
	s, clock := newTestStore(time.Minute, 100)
	ctx := context.Background()

	res, err := s.TryAcceptBatch(ctx, AcceptRequest{Count: 100, IdentityHash: "id-a"})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	res, err = s.TryAcceptBatch(ctx, AcceptRequest{Count: 1, IdentityHash: "id-a"})
	require.NoError(t, err)
	require.False(t, res.Accepted)

	clock.Advance(61 * time.Second)

	res, err = s.TryAcceptBatch(ctx, AcceptRequest{Count: 100, IdentityHash: "id-a"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, uint64(200), res.NewTotal)
}

func TestIdentitiesRateLimitedIndependently(t *testing.T) {
	s, _ := newTestStore(time.Minute, 100)
	ctx := context.Background()

	res, err := s.TryAcceptBatch(ctx, AcceptRequest{Count: 100, IdentityHash: "id-a"})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	res, err = s.TryAcceptBatch(ctx, AcceptRequest{Count: 100, IdentityHash: "id-b"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, uint64(200), res.NewTotal)
}

// TestConcurrentAcceptsSerialize is the core safety property: any
// interleaving of concurrent same-identity batches is equivalent to some
// serial order, so the accepted volume never exceeds the cap and the total
// is exactly the sum of accepted batches.
func TestConcurrentAcceptsSerialize(t *testing.T) {
	s, _ := newTestStore(time.Hour, 500)
	ctx := context.Background()

	const workers = 50
	const perBatch = 20 // 50*20 = 1000 proposed, only 500 can land

	var mu sync.Mutex
	var acceptedTotals []uint64
	var acceptedSum uint64

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.TryAcceptBatch(ctx, AcceptRequest{Count: perBatch, IdentityHash: "id-a"})
			require.NoError(t, err)
			if res.Accepted {
				mu.Lock()
				acceptedTotals = append(acceptedTotals, res.NewTotal)
				acceptedSum += perBatch
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	total, err := s.Total(ctx)
	require.NoError(t, err)

	assert.LessOrEqual(t, total, uint64(500))
	assert.Equal(t, acceptedSum, total, "total must equal the sum of accepted batches")
	assert.Equal(t, uint64(500), total, "exactly 25 of the 50 batches fit under the cap")

	// Every accepted batch observed a distinct post-increment total.
	sort.Slice(acceptedTotals, func(i, j int) bool { return acceptedTotals[i] < acceptedTotals[j] })
	for i := 1; i < len(acceptedTotals); i++ {
		assert.Less(t, acceptedTotals[i-1], acceptedTotals[i])
	}
}

func TestConcurrentDistinctIdentitiesAllLand(t *testing.T) {
	s, _ := newTestStore(time.Hour, 900)
	ctx := context.Background()

	const workers = 40
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n%26))
			res, err := s.TryAcceptBatch(ctx, AcceptRequest{Count: 5, IdentityHash: "worker-" + id})
			require.NoError(t, err)
			require.True(t, res.Accepted)
		}(i)
	}
	wg.Wait()

	total, err := s.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(workers*5), total)
}

func TestPruneBatches(t *testing.T) {
	s, clock := newTestStore(time.Minute, 1000)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.TryAcceptBatch(ctx, AcceptRequest{Count: 10, IdentityHash: "id-a"})
		require.NoError(t, err)
	}
	cutoff := clock.Now().UTC().Add(time.Second)

	clock.Advance(10 * time.Minute)
	_, err := s.TryAcceptBatch(ctx, AcceptRequest{Count: 10, IdentityHash: "id-a"})
	require.NoError(t, err)

	removed, err := s.PruneBatches(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	// Pruning is storage hygiene only, the total is untouched.
	total, err := s.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), total)
}
