package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionPlan is the billing cadence.
type SubscriptionPlan string

const (
	PlanMonthly SubscriptionPlan = "monthly"
	PlanYearly  SubscriptionPlan = "yearly"
)

// Valid reports whether the plan is a known cadence.
func (p SubscriptionPlan) Valid() bool {
	return p == PlanMonthly || p == PlanYearly
}

// SubscriptionStatus represents the current billing state.
type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionPastDue SubscriptionStatus = "past_due"
	// SubscriptionExpired is terminal; no transition leaves it.
	SubscriptionExpired SubscriptionStatus = "expired"
)

// Terminal reports whether no further transition may leave this status.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionExpired
}

// CanTransitionTo reports whether the state machine permits the move.
func (s SubscriptionStatus) CanTransitionTo(to SubscriptionStatus) bool {
	switch s {
	case SubscriptionActive:
		return to == SubscriptionPastDue || to == SubscriptionExpired
	case SubscriptionPastDue:
		return to == SubscriptionActive || to == SubscriptionExpired
	default:
		return false
	}
}

// Subscription represents a user's subscription. Subscriptions are created
// on successful checkout and never hard-deleted; expired rows remain for
// audit and history.
type Subscription struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	Plan                 SubscriptionPlan
	Status               SubscriptionStatus
	AutoRenewal          bool
	CurrentPeriodEnd     time.Time
	StripeCustomerID     string
	StripeSubscriptionID string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Lapsed reports whether a non-renewing subscription has run past its
// period end and should be expired by the reconciliation sweep.
func (s *Subscription) Lapsed(now time.Time) bool {
	return s.Status == SubscriptionActive && !s.AutoRenewal && s.CurrentPeriodEnd.Before(now)
}

// GraceElapsed reports whether a past-due subscription has been delinquent
// longer than the grace period.
func (s *Subscription) GraceElapsed(now time.Time, grace time.Duration) bool {
	return s.Status == SubscriptionPastDue && s.UpdatedAt.Before(now.Add(-grace))
}
