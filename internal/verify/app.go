package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/AddisonGoolsbee/thebutton/internal/identity"
	"github.com/AddisonGoolsbee/thebutton/internal/models"
)

// ErrNotVerified means the caller failed the human-presence gate. The HTTP
// layer maps it to 403.
var ErrNotVerified = errors.New("verification required")

// Records is the storage surface Authorize needs.
type Records interface {
	Upsert(ctx context.Context, rec models.VerificationRecord) error
	Latest(ctx context.Context, identityHash string) (models.VerificationRecord, bool, error)
}

// App decides whether a submission may pass the verification gate.
type App struct {
	verifier TokenVerifier
	records  Records
	exempt   *identity.ExemptList
	window   time.Duration
	clock    clockwork.Clock
}

func NewApp(verifier TokenVerifier, records Records, exempt *identity.ExemptList, window time.Duration, clock clockwork.Clock) *App {
	return &App{
		verifier: verifier,
		records:  records,
		exempt:   exempt,
		window:   window,
		clock:    clock,
	}
}

// Authorize passes exempt addresses and recently verified identities
// through. Everyone else must present a token, which is checked with the
// provider fail-closed: if the provider cannot be reached the gate stays
// shut.
func (a *App) Authorize(ctx context.Context, identityHash, token, remoteIP string) error {
	if a.exempt.Contains(remoteIP) {
		return nil
	}

	recent, err := a.RecentlyVerified(ctx, identityHash)
	if err != nil {
		return fmt.Errorf("check verification window: %w", err)
	}
	if recent {
		return nil
	}

	if token == "" {
		return fmt.Errorf("%w: no token presented", ErrNotVerified)
	}

	res, err := a.verifier.Verify(ctx, token, remoteIP)
	if err != nil {
		log.Warn().Err(err).Str("identity", identityHash).Msg("Verification provider unreachable, failing closed")
		return fmt.Errorf("%w: provider check failed", ErrNotVerified)
	}
	if !res.Success {
		return fmt.Errorf("%w: token rejected", ErrNotVerified)
	}

	rec := models.VerificationRecord{
		IdentityHash: identityHash,
		VerifiedAt:   a.clock.Now().UTC(),
		ProviderMeta: res.Raw,
	}
	if err := a.records.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("record verification: %w", err)
	}

	log.Info().Str("identity", identityHash).Msg("Identity verified")
	return nil
}

// RecentlyVerified reports whether the identity passed a check within the
// configured window. Expiry is evaluated here at read time, nothing evicts
// rows.
func (a *App) RecentlyVerified(ctx context.Context, identityHash string) (bool, error) {
	rec, ok, err := a.records.Latest(ctx, identityHash)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return a.clock.Now().UTC().Sub(rec.VerifiedAt) < a.window, nil
}
