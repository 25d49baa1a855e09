package counter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/AddisonGoolsbee/thebutton/internal/models"
	"github.com/AddisonGoolsbee/thebutton/internal/sqlutil"
)

// Repository is the Postgres-backed Store. Every accept runs in a single
// transaction; the FOR UPDATE lock on the counter row serializes concurrent
// writers so the windowed sum cannot race another insert.
type Repository struct {
	db     *sql.DB
	clock  clockwork.Clock
	policy RatePolicy
}

func NewRepository(db *sql.DB, clock clockwork.Clock, policy RatePolicy) *Repository {
	return &Repository{db: db, clock: clock, policy: policy}
}

// EnsureSchema creates the counter, ledger and verification tables if they
// do not exist and seeds the singleton counter row.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`
		CREATE TABLE IF NOT EXISTS counter (
			id SMALLINT PRIMARY KEY CHECK (id = 1),
			total BIGINT NOT NULL DEFAULT 0 CHECK (total >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS click_batches (
			id UUID PRIMARY KEY,
			count INTEGER NOT NULL CHECK (count >= 1 AND count <= %d),
			identity_hash TEXT NOT NULL,
			region TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`, models.MaxBatchCount),
		`
		CREATE INDEX IF NOT EXISTS idx_click_batches_identity_window
		ON click_batches (identity_hash, created_at)`,
		`
		CREATE TABLE IF NOT EXISTS verifications (
			identity_hash TEXT PRIMARY KEY,
			verified_at TIMESTAMPTZ NOT NULL,
			provider_meta JSONB
		)`,
		`
		INSERT INTO counter (id, total)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING`,
	}
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
		}
		return nil
	})
}

func (r *Repository) TryAcceptBatch(ctx context.Context, req AcceptRequest) (AcceptResult, error) {
	if req.Count <= 0 {
		return AcceptResult{}, fmt.Errorf("accept batch: count must be positive, got %d", req.Count)
	}

	now := r.clock.Now().UTC()
	cutoff := now.Add(-r.policy.Window)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("accept batch: begin: %w", err)
	}
	defer tx.Rollback()

	// Lock the singleton row before summing the window so two batches from
	// the same identity cannot both pass the cap check.
	var total int64
	err = tx.QueryRowContext(ctx, `
		SELECT total
		FROM counter
		WHERE id = 1
		FOR UPDATE
	`).Scan(&total)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("accept batch: lock counter: %w", err)
	}

	var windowSum int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(count), 0)
		FROM click_batches
		WHERE identity_hash = $1 AND created_at > $2
	`, req.IdentityHash, cutoff).Scan(&windowSum)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("accept batch: window sum: %w", err)
	}

	if windowSum+int64(req.Count) > int64(r.policy.MaxPerWindow) {
		return AcceptResult{Accepted: false}, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO click_batches (id, count, identity_hash, region, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), req.Count, req.IdentityHash, sqlutil.ToSqlString(req.Region), now)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("accept batch: append ledger: %w", err)
	}

	var newTotal int64
	err = tx.QueryRowContext(ctx, `
		UPDATE counter
		SET total = total + $1, updated_at = $2
		WHERE id = 1
		RETURNING total
	`, req.Count, now).Scan(&newTotal)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("accept batch: increment total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return AcceptResult{}, fmt.Errorf("accept batch: commit: %w", err)
	}
	return AcceptResult{Accepted: true, NewTotal: uint64(newTotal)}, nil
}

func (r *Repository) Total(ctx context.Context) (uint64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `
		SELECT total
		FROM counter
		WHERE id = 1
	`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("read total: %w", err)
	}
	return uint64(total), nil
}

func (r *Repository) PruneBatches(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM click_batches
		WHERE created_at < $1
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune batches: %w", err)
	}
	return res.RowsAffected()
}
