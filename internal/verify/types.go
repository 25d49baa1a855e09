package verify

import (
	"context"
	"encoding/json"
)

// Result is the challenge provider's verdict plus its raw response document,
// which is kept on the verification record for later audit.
type Result struct {
	Success bool
	Raw     json.RawMessage
}

// TokenVerifier checks a challenge token with the provider.
type TokenVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (Result, error)
}
