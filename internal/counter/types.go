package counter

import (
	"context"
	"time"
)

// AcceptRequest is one batch of clicks proposed against the shared counter.
type AcceptRequest struct {
	Count        int
	IdentityHash string
	Region       *string
}

// AcceptResult reports the outcome of an accept attempt. NewTotal is only
// meaningful when Accepted is true.
type AcceptResult struct {
	Accepted bool
	NewTotal uint64
}

// RatePolicy is the per-identity volume cap: an identity may contribute at
// most MaxPerWindow clicks (summed over accepted batches) in any trailing
// Window. A batch that would push the sum past the cap is rejected whole.
type RatePolicy struct {
	Window       time.Duration
	MaxPerWindow int
}

func DefaultRatePolicy() RatePolicy {
	return RatePolicy{
		Window:       60 * time.Second,
		MaxPerWindow: 900,
	}
}

// Store is the counter persistence contract. TryAcceptBatch is the single
// write path: the rate check, ledger append and total increment happen as
// one atomic unit, so a rejected batch leaves no trace and the total never
// reflects half a batch.
type Store interface {
	TryAcceptBatch(ctx context.Context, req AcceptRequest) (AcceptResult, error)
	Total(ctx context.Context) (uint64, error)
	PruneBatches(ctx context.Context, olderThan time.Time) (int64, error)
}
