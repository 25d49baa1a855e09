package models

import (
	"time"

	"github.com/google/uuid"
)

// Counter is the singleton shared total. Only the counter store's atomic
// accept path may mutate it; the total never decreases.
type Counter struct {
	Total     uint64    `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BatchRecord is one accepted submission in the append-only click ledger.
// Rows are immutable once written and are kept at least as long as the
// rate-limit window needs to look back.
type BatchRecord struct {
	ID           uuid.UUID `json:"id"`
	Count        int       `json:"count"`
	IdentityHash string    `json:"identity_hash"`
	Region       *string   `json:"region,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// MaxBatchCount is the largest click count a single batch may carry.
// Enforced at validation time and again by a CHECK constraint at insert.
const MaxBatchCount = 200
