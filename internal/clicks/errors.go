package clicks

import "errors"

// Submission failures the service layer maps onto status codes. Anything
// else bubbling out of Submit is an internal error.
var (
	// ErrInvalidCount means the batch size is not an integer in [1, 200].
	ErrInvalidCount = errors.New("invalid count")

	// ErrRateLimited means the batch would push the identity past its
	// windowed volume cap. The whole batch was refused, nothing landed.
	ErrRateLimited = errors.New("rate limit exceeded")
)
