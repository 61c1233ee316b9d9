package domain

import "errors"

var (
	// ErrSubscriptionNotFound is returned when a user has no subscription
	// or the referenced subscription does not exist.
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")

	// ErrActiveSubscriptionExists is returned when a checkout is attempted
	// while a non-expired subscription exists. A user holds at most one
	// non-expired subscription at a time.
	ErrActiveSubscriptionExists = errors.New("billing: a non-expired subscription already exists")

	// ErrSubscriptionTerminal is returned when an operation targets an
	// expired subscription.
	ErrSubscriptionTerminal = errors.New("billing: subscription is expired")

	// ErrPaymentMethodNotFound is returned when the referenced payment
	// method does not exist or belongs to another user.
	ErrPaymentMethodNotFound = errors.New("billing: payment method not found")

	// ErrWebhookSignature is returned when a processor webhook carries an
	// invalid signature. No state changes; the processor will retry.
	ErrWebhookSignature = errors.New("billing: webhook signature verification failed")

	// ErrUserNotFound is returned when the referenced user does not exist.
	ErrUserNotFound = errors.New("billing: user not found")
)
