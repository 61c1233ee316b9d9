// Package stripegw implements the payment processor port on top of the
// official Stripe SDK. Every outbound call runs through a circuit breaker
// so a Stripe outage degrades billing endpoints quickly instead of tying
// up request handlers in timeouts.
package stripegw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/checkout/session"
	"github.com/stripe/stripe-go/v78/customer"
	"github.com/stripe/stripe-go/v78/invoice"
	"github.com/stripe/stripe-go/v78/paymentmethod"
	"github.com/stripe/stripe-go/v78/subscription"

	"github.com/felixgeelhaar/scholaris/internal/billing/domain"
)

// ErrProcessorUnavailable is returned while the circuit is open.
var ErrProcessorUnavailable = errors.New("stripegw: payment processor unavailable")

// Config holds Stripe credentials and checkout settings.
type Config struct {
	SecretKey      string
	MonthlyPriceID string
	YearlyPriceID  string
	SuccessURL     string
	CancelURL      string
}

// Gateway is the Stripe-backed PaymentProcessor.
type Gateway struct {
	config  Config
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewGateway creates a gateway and configures the SDK key.
func NewGateway(config Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	stripe.Key = config.SecretKey

	settings := gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &Gateway{
		config:  config,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		logger:  logger,
	}
}

// execute runs a Stripe call through the breaker.
func (g *Gateway) execute(fn func() (any, error)) (any, error) {
	result, err := g.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrProcessorUnavailable
	}
	return result, err
}

// CreateCustomer registers the user with Stripe and returns the customer id.
func (g *Gateway) CreateCustomer(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx

	result, err := g.execute(func() (any, error) {
		return customer.New(params)
	})
	if err != nil {
		return "", err
	}
	return result.(*stripe.Customer).ID, nil
}

// CreateCheckoutSession opens a hosted subscription checkout. The plan
// rides along in the session metadata and the caller's user id in the
// client reference so the completion webhook can record both without
// guessing from price ids.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, customerID, clientReferenceID string, plan domain.SubscriptionPlan) (domain.CheckoutSession, error) {
	priceID, err := g.priceFor(plan)
	if err != nil {
		return domain.CheckoutSession{}, err
	}

	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(clientReferenceID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(g.config.SuccessURL),
		CancelURL:         stripe.String(g.config.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("plan", string(plan))

	result, err := g.execute(func() (any, error) {
		return session.New(params)
	})
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	s := result.(*stripe.CheckoutSession)
	return domain.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (g *Gateway) priceFor(plan domain.SubscriptionPlan) (string, error) {
	switch plan {
	case domain.PlanMonthly:
		return g.config.MonthlyPriceID, nil
	case domain.PlanYearly:
		return g.config.YearlyPriceID, nil
	default:
		return "", fmt.Errorf("stripegw: no price configured for plan %q", plan)
	}
}

// GetSubscription fetches the processor's view of a subscription.
func (g *Gateway) GetSubscription(ctx context.Context, subscriptionID string) (domain.ProcessorSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	result, err := g.execute(func() (any, error) {
		return subscription.Get(subscriptionID, params)
	})
	if err != nil {
		return domain.ProcessorSubscription{}, err
	}

	s := result.(*stripe.Subscription)
	out := domain.ProcessorSubscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CurrentPeriodEnd:  time.Unix(s.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	return out, nil
}

// CancelAtPeriodEnd schedules the subscription to end with the current
// period instead of cancelling immediately.
func (g *Gateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx

	_, err := g.execute(func() (any, error) {
		return subscription.Update(subscriptionID, params)
	})
	return err
}

// Reactivate clears a pending cancellation.
func (g *Gateway) Reactivate(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(false)}
	params.Context = ctx

	_, err := g.execute(func() (any, error) {
		return subscription.Update(subscriptionID, params)
	})
	return err
}

// ListPaymentMethods returns the card methods attached to a customer.
func (g *Gateway) ListPaymentMethods(ctx context.Context, customerID string) ([]domain.ProcessorPaymentMethod, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	params.Context = ctx

	result, err := g.execute(func() (any, error) {
		var methods []domain.ProcessorPaymentMethod
		iter := paymentmethod.List(params)
		for iter.Next() {
			methods = append(methods, toProcessorMethod(iter.PaymentMethod()))
		}
		return methods, iter.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.ProcessorPaymentMethod), nil
}

// AttachPaymentMethod attaches a tokenized method to the customer and
// returns its display metadata.
func (g *Gateway) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (domain.ProcessorPaymentMethod, error) {
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	params.Context = ctx

	result, err := g.execute(func() (any, error) {
		return paymentmethod.Attach(paymentMethodID, params)
	})
	if err != nil {
		return domain.ProcessorPaymentMethod{}, err
	}
	return toProcessorMethod(result.(*stripe.PaymentMethod)), nil
}

// DetachPaymentMethod detaches a method from its customer.
func (g *Gateway) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx

	_, err := g.execute(func() (any, error) {
		return paymentmethod.Detach(paymentMethodID, params)
	})
	return err
}

// SetDefaultPaymentMethod makes the method the customer's invoice default.
func (g *Gateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx

	_, err := g.execute(func() (any, error) {
		return customer.Update(customerID, params)
	})
	return err
}

// ListInvoices returns the customer's invoice history, newest first.
func (g *Gateway) ListInvoices(ctx context.Context, customerID string) ([]domain.Invoice, error) {
	params := &stripe.InvoiceListParams{Customer: stripe.String(customerID)}
	params.Context = ctx

	result, err := g.execute(func() (any, error) {
		var invoices []domain.Invoice
		iter := invoice.List(params)
		for iter.Next() {
			in := iter.Invoice()
			invoices = append(invoices, domain.Invoice{
				ID:        in.ID,
				Status:    string(in.Status),
				AmountDue: in.AmountDue,
				Currency:  string(in.Currency),
				CreatedAt: time.Unix(in.Created, 0).UTC(),
			})
		}
		return invoices, iter.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Invoice), nil
}

func toProcessorMethod(pm *stripe.PaymentMethod) domain.ProcessorPaymentMethod {
	out := domain.ProcessorPaymentMethod{ID: pm.ID}
	if pm.Card != nil {
		out.Brand = string(pm.Card.Brand)
		out.Last4 = pm.Card.Last4
		out.ExpMonth = pm.Card.ExpMonth
		out.ExpYear = pm.Card.ExpYear
	}
	return out
}
