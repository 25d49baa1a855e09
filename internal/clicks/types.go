package clicks

import (
	"context"
	"time"
)

// SubmitInput carries one click batch through the submission pipeline.
type SubmitInput struct {
	Count      int
	Token      string
	RemoteAddr string
	Origin     string
	Region     *string
}

// Authorizer is the verification gate. A nil error means the submission may
// proceed.
type Authorizer interface {
	Authorize(ctx context.Context, identityHash, token, remoteIP string) error
}

// Announcer pushes an accepted total beyond the HTTP response, to the live
// feed and any peer instances.
type Announcer interface {
	AnnounceTotal(total uint64)
}

// Config bounds the submission pipeline.
type Config struct {
	CacheTTL     time.Duration
	StoreTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		CacheTTL:     5 * time.Second,
		StoreTimeout: 5 * time.Second,
	}
}
