package integrity

import "errors"

// Verification failures, each mapped to a fixed externally-visible status by
// the API layer and logged as a security event.
var (
	ErrMissingFields     = errors.New("integrity: missing signature fields")
	ErrStaleTimestamp    = errors.New("integrity: stale timestamp")
	ErrSignatureMismatch = errors.New("integrity: signature mismatch")
	ErrNonceReused       = errors.New("integrity: nonce reused")
)
