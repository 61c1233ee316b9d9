package integrity

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Transaction is the ephemeral security envelope attached to one signed
// response. It exists only for the duration of a request/response pair.
type Transaction struct {
	ID        string `json:"transaction_id"`
	Timestamp string `json:"timestamp"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
	Algorithm string `json:"algorithm"`
}

// Signer signs outbound billing responses. It never mutates business state.
type Signer struct {
	secret  []byte
	nowFunc func() time.Time
	idFunc  func() string
}

// NewSigner creates a signer for the shared secret.
func NewSigner(secret string) *Signer {
	return &Signer{
		secret:  []byte(secret),
		nowFunc: time.Now,
		idFunc:  func() string { return "STXN-" + uuid.NewString() },
	}
}

// Sign produces a fresh transaction envelope over the response body.
func (s *Signer) Sign(body []byte) Transaction {
	id := s.idFunc()
	timestamp := strconv.FormatInt(s.nowFunc().Unix(), 10)
	nonce := uuid.NewString()
	signature := computeHMAC(s.secret, canonicalResponse(id, timestamp, nonce, BodyHash(body)))

	return Transaction{
		ID:        id,
		Timestamp: timestamp,
		Nonce:     nonce,
		Signature: signature,
		Algorithm: Algorithm,
	}
}

// VerifyTransaction recomputes a transaction signature over the body.
// Clients use the same canonical form; the server keeps this for tests and
// support tooling.
func (s *Signer) VerifyTransaction(tx Transaction, body []byte) bool {
	expected := computeHMAC(s.secret, canonicalResponse(tx.ID, tx.Timestamp, tx.Nonce, BodyHash(body)))
	return signaturesEqual(expected, tx.Signature)
}
