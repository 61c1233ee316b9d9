// Package reauth implements the short-lived proof-of-password gate guarding
// account-destructive operations. A standing session token alone is never
// sufficient to cancel billing or remove payment methods: the caller must
// present a freshly verified password or a single-use token minted from one.
package reauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/scholaris/internal/shared/infrastructure/kv"
)

var (
	// ErrRequired is returned when no re-authentication proof was supplied.
	ErrRequired = errors.New("reauth: re-authentication required")
	// ErrInvalid is returned when the password check fails.
	ErrInvalid = errors.New("reauth: invalid credentials")
	// ErrExpired is returned when a token is unknown, already used, expired,
	// or revoked.
	ErrExpired = errors.New("reauth: token expired or already used")
)

// PasswordVerifier checks a user's password against the stored credential.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, userID uuid.UUID, password string) error
}

// Proof carries the re-authentication material a request supplied.
type Proof struct {
	// Password is a freshly supplied password, out-of-band of the session.
	Password string
	// Token is a previously issued single-use token.
	Token string
}

// Gate issues and consumes single-use, short-lived re-authentication tokens.
type Gate struct {
	passwords PasswordVerifier
	store     kv.Store
	ttl       time.Duration
}

// NewGate creates a gate whose tokens live for ttl.
func NewGate(passwords PasswordVerifier, store kv.Store, ttl time.Duration) *Gate {
	return &Gate{passwords: passwords, store: store, ttl: ttl}
}

func tokenKey(userID uuid.UUID, token string) string {
	return fmt.Sprintf("reauth:token:%s:%s", userID, token)
}

func epochKey(userID uuid.UUID) string {
	return fmt.Sprintf("reauth:epoch:%s", userID)
}

// Issue verifies the password and mints a single-use token.
func (g *Gate) Issue(ctx context.Context, userID uuid.UUID, password string) (string, error) {
	if password == "" {
		return "", ErrRequired
	}
	if err := g.passwords.VerifyPassword(ctx, userID, password); err != nil {
		return "", err
	}

	epoch, err := g.currentEpoch(ctx, userID)
	if err != nil {
		return "", err
	}

	token := uuid.NewString()
	if _, err := g.store.SetNX(ctx, tokenKey(userID, token), strconv.FormatInt(epoch, 10), g.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Consume redeems a token. A token is consumed exactly once; a second use,
// an elapsed TTL, or a revocation all fail with ErrExpired.
func (g *Gate) Consume(ctx context.Context, userID uuid.UUID, token string) error {
	issuedAt, err := g.store.GetDel(ctx, tokenKey(userID, token))
	if errors.Is(err, kv.ErrNotFound) {
		return ErrExpired
	}
	if err != nil {
		return err
	}

	epoch, err := g.currentEpoch(ctx, userID)
	if err != nil {
		return err
	}
	if issuedAt != strconv.FormatInt(epoch, 10) {
		return ErrExpired
	}
	return nil
}

// Authorize admits a destructive operation given either proof form. A fresh
// password is verified directly; a token is consumed. No proof at all fails
// with ErrRequired.
func (g *Gate) Authorize(ctx context.Context, userID uuid.UUID, proof Proof) error {
	switch {
	case proof.Token != "":
		return g.Consume(ctx, userID, proof.Token)
	case proof.Password != "":
		return g.passwords.VerifyPassword(ctx, userID, proof.Password)
	default:
		return ErrRequired
	}
}

// Revoke invalidates all outstanding tokens for the user. Called when the
// user's password changes.
func (g *Gate) Revoke(ctx context.Context, userID uuid.UUID) error {
	// Bumping the epoch orphans every token minted under the old one.
	_, err := g.store.Incr(ctx, epochKey(userID), 0)
	return err
}

func (g *Gate) currentEpoch(ctx context.Context, userID uuid.UUID) (int64, error) {
	val, err := g.store.Get(ctx, epochKey(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}
