package models

import (
	"encoding/json"
	"time"
)

// VerificationRecord marks that an identity passed a human-presence check
// recently. Expiry is evaluated at read time against the configured window;
// nothing actively evicts rows.
type VerificationRecord struct {
	IdentityHash string          `json:"identity_hash"`
	VerifiedAt   time.Time       `json:"verified_at"`
	ProviderMeta json.RawMessage `json:"provider_meta,omitempty"` // JSONB, raw siteverify response
}
