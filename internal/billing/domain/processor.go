package domain

import (
	"context"
	"time"
)

// CheckoutSession is a processor-hosted payment page for starting a
// subscription.
type CheckoutSession struct {
	ID  string
	URL string
}

// ProcessorSubscription is the processor's view of a subscription.
type ProcessorSubscription struct {
	ID                string
	CustomerID        string
	Status            string
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
}

// ProcessorPaymentMethod is the display-safe card metadata the processor
// returns for an attached payment method.
type ProcessorPaymentMethod struct {
	ID       string
	Brand    string
	Last4    string
	ExpMonth int64
	ExpYear  int64
}

// Invoice is a processor invoice summary.
type Invoice struct {
	ID        string
	Status    string
	AmountDue int64
	Currency  string
	CreatedAt time.Time
}

// PaymentProcessor abstracts the external payment processor. The concrete
// implementation wraps the Stripe SDK behind a circuit breaker.
type PaymentProcessor interface {
	CreateCustomer(ctx context.Context, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, customerID, clientReferenceID string, plan SubscriptionPlan) (CheckoutSession, error)

	GetSubscription(ctx context.Context, subscriptionID string) (ProcessorSubscription, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error
	Reactivate(ctx context.Context, subscriptionID string) error

	ListPaymentMethods(ctx context.Context, customerID string) ([]ProcessorPaymentMethod, error)
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (ProcessorPaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error

	ListInvoices(ctx context.Context, customerID string) ([]Invoice, error)
}
