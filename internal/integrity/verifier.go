package integrity

import (
	"context"
	"strconv"
	"time"
)

// RequestSignature carries the security fields an inbound request supplies.
type RequestSignature struct {
	// Timestamp is the client-supplied unix-seconds timestamp.
	Timestamp string
	// Nonce is the client-minted one-time value.
	Nonce string
	// Signature is the hex HMAC-SHA256 over the canonical request.
	Signature string
}

// Verifier validates inbound signed requests on mutating billing endpoints.
type Verifier struct {
	secret  []byte
	window  time.Duration
	nonces  *NonceGuard
	nowFunc func() time.Time
}

// NewVerifier creates a verifier sharing the nonce guard's replay window.
func NewVerifier(secret string, window time.Duration, nonces *NonceGuard) *Verifier {
	return &Verifier{
		secret:  []byte(secret),
		window:  window,
		nonces:  nonces,
		nowFunc: time.Now,
	}
}

// Verify checks the signature fields against the raw request. On success the
// nonce is recorded as consumed; on any failure no state changes.
//
// Ordering: field presence, timestamp freshness, signature, then nonce, so a
// replayed request is only charged against the nonce store once its
// signature is known to be genuine.
func (v *Verifier) Verify(ctx context.Context, method, path string, sig RequestSignature, body []byte) error {
	if sig.Timestamp == "" || sig.Nonce == "" || sig.Signature == "" {
		return ErrMissingFields
	}

	unix, err := strconv.ParseInt(sig.Timestamp, 10, 64)
	if err != nil {
		// A timestamp that cannot be parsed can never be fresh.
		return ErrStaleTimestamp
	}
	ts := time.Unix(unix, 0)

	skew := v.nowFunc().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew >= v.window {
		return ErrStaleTimestamp
	}

	expected := computeHMAC(v.secret, canonicalRequest(method, path, sig.Timestamp, sig.Nonce, body))
	if !signaturesEqual(expected, sig.Signature) {
		return ErrSignatureMismatch
	}

	accepted, err := v.nonces.Observe(ctx, sig.Nonce, ts)
	if err != nil {
		return err
	}
	if !accepted {
		return ErrNonceReused
	}
	return nil
}
