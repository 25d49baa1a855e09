package counter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type memBatch struct {
	count        int
	identityHash string
	createdAt    time.Time
}

// MemoryStore implements Store entirely in memory. It mirrors the Postgres
// semantics under one mutex, which is what makes it a faithful stand-in for
// tests and store-less development.
type MemoryStore struct {
	mu      sync.Mutex
	total   uint64
	batches []memBatch
	clock   clockwork.Clock
	policy  RatePolicy
}

func NewMemoryStore(clock clockwork.Clock, policy RatePolicy) *MemoryStore {
	return &MemoryStore{clock: clock, policy: policy}
}

func (s *MemoryStore) TryAcceptBatch(_ context.Context, req AcceptRequest) (AcceptResult, error) {
	if req.Count <= 0 {
		return AcceptResult{}, fmt.Errorf("accept batch: count must be positive, got %d", req.Count)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	cutoff := now.Add(-s.policy.Window)

	windowSum := 0
	for _, b := range s.batches {
		if b.identityHash == req.IdentityHash && b.createdAt.After(cutoff) {
			windowSum += b.count
		}
	}
	if windowSum+req.Count > s.policy.MaxPerWindow {
		return AcceptResult{Accepted: false}, nil
	}

	s.batches = append(s.batches, memBatch{
		count:        req.Count,
		identityHash: req.IdentityHash,
		createdAt:    now,
	})
	s.total += uint64(req.Count)
	return AcceptResult{Accepted: true, NewTotal: s.total}, nil
}

func (s *MemoryStore) Total(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total, nil
}

func (s *MemoryStore) PruneBatches(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.batches[:0]
	var removed int64
	for _, b := range s.batches {
		if b.createdAt.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, b)
	}
	s.batches = kept
	return removed, nil
}
