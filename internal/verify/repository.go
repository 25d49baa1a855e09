package verify

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sqlc-dev/pqtype"

	"github.com/AddisonGoolsbee/thebutton/internal/models"
	"github.com/AddisonGoolsbee/thebutton/internal/sqlutil"
)

// Repository persists verification records keyed by identity hash.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Upsert records a fresh verification, replacing any older one for the same
// identity.
func (r *Repository) Upsert(ctx context.Context, rec models.VerificationRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verifications (identity_hash, verified_at, provider_meta)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity_hash)
		DO UPDATE SET verified_at = EXCLUDED.verified_at, provider_meta = EXCLUDED.provider_meta
	`, rec.IdentityHash, rec.VerifiedAt, sqlutil.ToNullRawMessage(rec.ProviderMeta))
	if err != nil {
		return fmt.Errorf("upsert verification: %w", err)
	}
	return nil
}

// Latest returns the verification record for an identity, if one exists.
func (r *Repository) Latest(ctx context.Context, identityHash string) (models.VerificationRecord, bool, error) {
	var rec models.VerificationRecord
	var meta pqtype.NullRawMessage
	err := r.db.QueryRowContext(ctx, `
		SELECT identity_hash, verified_at, provider_meta
		FROM verifications
		WHERE identity_hash = $1
	`, identityHash).Scan(&rec.IdentityHash, &rec.VerifiedAt, &meta)
	if err == sql.ErrNoRows {
		return models.VerificationRecord{}, false, nil
	}
	if err != nil {
		return models.VerificationRecord{}, false, fmt.Errorf("read verification: %w", err)
	}
	rec.ProviderMeta = sqlutil.FromNullRawMessage(meta)
	return rec, true, nil
}
