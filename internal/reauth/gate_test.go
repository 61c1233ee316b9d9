package reauth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/felixgeelhaar/scholaris/internal/shared/infrastructure/kv"
)

type fakeCredentials struct {
	hashes map[uuid.UUID]string
}

func (f fakeCredentials) PasswordHash(ctx context.Context, userID uuid.UUID) (string, error) {
	return f.hashes[userID], nil
}

func newTestGate(t *testing.T, userID uuid.UUID, password string, ttl time.Duration) *Gate {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	verifier := NewBcryptVerifier(fakeCredentials{hashes: map[uuid.UUID]string{userID: string(hash)}})
	return NewGate(verifier, kv.NewMemoryStore(), ttl)
}

func TestGate_IssueRequiresCorrectPassword(t *testing.T) {
	userID := uuid.New()
	gate := newTestGate(t, userID, "correct horse", 5*time.Minute)
	ctx := context.Background()

	_, err := gate.Issue(ctx, userID, "wrong password")
	require.ErrorIs(t, err, ErrInvalid)

	token, err := gate.Issue(ctx, userID, "correct horse")
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

func TestGate_TokenIsSingleUse(t *testing.T) {
	userID := uuid.New()
	gate := newTestGate(t, userID, "pw", 5*time.Minute)
	ctx := context.Background()

	token, err := gate.Issue(ctx, userID, "pw")
	require.NoError(t, err)

	require.NoError(t, gate.Consume(ctx, userID, token))

	// Second use fails even though the TTL has not elapsed.
	require.ErrorIs(t, gate.Consume(ctx, userID, token), ErrExpired)
}

func TestGate_TokenScopedToUser(t *testing.T) {
	userID := uuid.New()
	gate := newTestGate(t, userID, "pw", 5*time.Minute)
	ctx := context.Background()

	token, err := gate.Issue(ctx, userID, "pw")
	require.NoError(t, err)

	require.ErrorIs(t, gate.Consume(ctx, uuid.New(), token), ErrExpired)
}

func TestGate_AuthorizeProofForms(t *testing.T) {
	userID := uuid.New()
	gate := newTestGate(t, userID, "pw", 5*time.Minute)
	ctx := context.Background()

	require.ErrorIs(t, gate.Authorize(ctx, userID, Proof{}), ErrRequired)
	require.ErrorIs(t, gate.Authorize(ctx, userID, Proof{Password: "nope"}), ErrInvalid)
	require.NoError(t, gate.Authorize(ctx, userID, Proof{Password: "pw"}))

	token, err := gate.Issue(ctx, userID, "pw")
	require.NoError(t, err)
	require.NoError(t, gate.Authorize(ctx, userID, Proof{Token: token}))
	require.ErrorIs(t, gate.Authorize(ctx, userID, Proof{Token: token}), ErrExpired)
}

func TestGate_RevokeInvalidatesOutstandingTokens(t *testing.T) {
	userID := uuid.New()
	gate := newTestGate(t, userID, "pw", 5*time.Minute)
	ctx := context.Background()

	token, err := gate.Issue(ctx, userID, "pw")
	require.NoError(t, err)

	require.NoError(t, gate.Revoke(ctx, userID))
	require.ErrorIs(t, gate.Consume(ctx, userID, token), ErrExpired)

	// Tokens minted after the revocation work again.
	token, err = gate.Issue(ctx, userID, "pw")
	require.NoError(t, err)
	require.NoError(t, gate.Consume(ctx, userID, token))
}

func TestGate_UnknownTokenExpired(t *testing.T) {
	userID := uuid.New()
	gate := newTestGate(t, userID, "pw", 5*time.Minute)

	require.ErrorIs(t, gate.Consume(context.Background(), userID, uuid.NewString()), ErrExpired)
}
