package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionRepository defines access for subscription persistence.
//
// Status changes go through UpdateStatus, a conditional compare-and-swap
// style update: the write lands only when the row's current status is one
// of the expected values. A late-arriving stale transition (a sweep racing
// a webhook for the same record) is thereby rejected rather than clobbering
// the newer state.
type SubscriptionRepository interface {
	// Upsert inserts the subscription, or updates the user's live row when
	// one already exists. Expired rows are never touched; they remain as
	// history next to any newer subscription.
	Upsert(ctx context.Context, subscription *Subscription) error

	// FindByUserID prefers the user's live (non-expired) subscription and
	// falls back to the most recent expired one. Returns
	// ErrSubscriptionNotFound when the user has no record at all.
	FindByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// FindByStripeSubscriptionID returns (nil, nil) for an unknown id;
	// webhook handlers treat that as a drop, not an error.
	FindByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error)

	// UpdateStatus transitions the subscription to status `to` only if its
	// current status is in `from`. A non-nil periodEnd also advances
	// current_period_end. Reports whether the transition landed.
	UpdateStatus(ctx context.Context, id uuid.UUID, from []SubscriptionStatus, to SubscriptionStatus, periodEnd *time.Time) (bool, error)

	// SetAutoRenewal flips the renewal flag on a non-expired subscription.
	// Reports whether the update landed.
	SetAutoRenewal(ctx context.Context, id uuid.UUID, autoRenewal bool) (bool, error)

	// ListLapsedNonRenewing returns active subscriptions with auto-renewal
	// off whose period ended before now.
	ListLapsedNonRenewing(ctx context.Context, now time.Time) ([]*Subscription, error)

	// ListPastDueUpdatedBefore returns past-due subscriptions not touched
	// since cutoff.
	ListPastDueUpdatedBefore(ctx context.Context, cutoff time.Time) ([]*Subscription, error)
}

// PaymentMethodRepository defines access for stored payment instruments.
type PaymentMethodRepository interface {
	Create(ctx context.Context, method *PaymentMethod) error
	FindByID(ctx context.Context, id uuid.UUID) (*PaymentMethod, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]PaymentMethod, error)

	// SetDefault marks the method as the user's default and clears the flag
	// on every other method in the same statement.
	SetDefault(ctx context.Context, userID, id uuid.UUID) error

	Delete(ctx context.Context, id uuid.UUID) error
}

// UserRepository exposes the slices of the user record billing needs:
// the access role driven by subscription state, and the password hash
// consumed by the re-authentication gate.
type UserRepository interface {
	Role(ctx context.Context, userID uuid.UUID) (Role, error)
	SetRole(ctx context.Context, userID uuid.UUID, role Role) error
	PasswordHash(ctx context.Context, userID uuid.UUID) (string, error)
	Email(ctx context.Context, userID uuid.UUID) (string, error)
}

// EventLedger records processed webhook event ids so redelivered events
// short-circuit instead of re-applying side effects.
type EventLedger interface {
	// Processed reports whether the event id was already recorded.
	Processed(ctx context.Context, provider, eventID string) (bool, error)

	// MarkProcessed records the event id. Reports false when the event was
	// already recorded.
	MarkProcessed(ctx context.Context, provider, eventID, eventType string) (bool, error)
}
