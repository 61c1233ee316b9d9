// Package integrity implements the request/response signing protocol that
// protects billing endpoints against tampering and replay. Inbound mutating
// requests carry a timestamp, a one-time nonce, and an HMAC-SHA256 signature
// over a canonical form of the request; outbound success responses are signed
// the same way over a hash of the response body.
package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Algorithm is the fixed signing algorithm advertised to clients.
const Algorithm = "HMAC-SHA256"

// BodyHash returns the hex-encoded SHA-256 of a payload.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// canonicalRequest builds the canonical form a request signature covers.
// The body participates as its hash so the canonical string stays small.
func canonicalRequest(method, path, timestamp, nonce string, body []byte) string {
	return strings.Join([]string{
		strings.ToUpper(method),
		path,
		timestamp,
		nonce,
		BodyHash(body),
	}, "\n")
}

// canonicalResponse builds the canonical form a response signature covers.
func canonicalResponse(transactionID, timestamp, nonce, bodyHash string) string {
	return strings.Join([]string{transactionID, timestamp, nonce, bodyHash}, "\n")
}

// computeHMAC returns the hex-encoded HMAC-SHA256 of message under secret.
func computeHMAC(secret []byte, message string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// signaturesEqual compares two hex signatures in constant time.
func signaturesEqual(a, b string) bool {
	rawA, errA := hex.DecodeString(a)
	rawB, errB := hex.DecodeString(b)
	if errA != nil || errB != nil {
		return false
	}
	return hmac.Equal(rawA, rawB)
}
