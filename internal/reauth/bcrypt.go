package reauth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// CredentialSource looks up a user's stored password hash.
type CredentialSource interface {
	PasswordHash(ctx context.Context, userID uuid.UUID) (string, error)
}

// BcryptVerifier verifies passwords against bcrypt hashes.
type BcryptVerifier struct {
	credentials CredentialSource
}

// NewBcryptVerifier creates a verifier over the credential source.
func NewBcryptVerifier(credentials CredentialSource) *BcryptVerifier {
	return &BcryptVerifier{credentials: credentials}
}

// VerifyPassword reports ErrInvalid on mismatch. Lookup failures surface
// unchanged so transient persistence errors are not mistaken for bad
// credentials.
func (v *BcryptVerifier) VerifyPassword(ctx context.Context, userID uuid.UUID, password string) error {
	hash, err := v.credentials.PasswordHash(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalid
		}
		return err
	}
	return nil
}
