package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/scholaris/internal/billing/domain"
	"github.com/felixgeelhaar/scholaris/internal/shared/infrastructure/eventbus"
)

const webhookProvider = "stripe"

// WebhookEvent is a verified, provider-normalized webhook event.
type WebhookEvent struct {
	ID   string
	Type string
	Data json.RawMessage
}

// WebhookVerifier checks the processor signature over the exact raw bytes
// of the delivery and parses the event envelope.
type WebhookVerifier interface {
	VerifyAndParse(payload []byte, signatureHeader string) (WebhookEvent, error)
}

// Ingestor applies external processor events idempotently. Replayed
// deliveries short-circuit on the processed-event ledger; duplicate
// concurrent deliveries fall through to conditional transitions that land
// at most once.
type Ingestor struct {
	verifier      WebhookVerifier
	ledger        domain.EventLedger
	subscriptions domain.SubscriptionRepository
	processor     domain.PaymentProcessor
	lifecycle     *Lifecycle
	publisher     eventbus.Publisher
	logger        *slog.Logger
}

// NewIngestor creates a webhook ingestor.
func NewIngestor(
	verifier WebhookVerifier,
	ledger domain.EventLedger,
	subscriptions domain.SubscriptionRepository,
	processor domain.PaymentProcessor,
	lifecycle *Lifecycle,
	publisher eventbus.Publisher,
	logger *slog.Logger,
) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = eventbus.NewNoopPublisher(logger)
	}
	return &Ingestor{
		verifier:      verifier,
		ledger:        ledger,
		subscriptions: subscriptions,
		processor:     processor,
		lifecycle:     lifecycle,
		publisher:     publisher,
		logger:        logger,
	}
}

// Ingest verifies and applies one delivery. The payload must be the exact
// raw request bytes; signature verification covers them byte for byte.
// Returns domain.ErrWebhookSignature without any state change when the
// signature does not check out.
func (i *Ingestor) Ingest(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := i.verifier.VerifyAndParse(payload, signatureHeader)
	if err != nil {
		i.logger.Warn("webhook signature rejected",
			"security_event", "webhook-signature",
			"error", err,
		)
		i.publishRejected(ctx)
		return domain.ErrWebhookSignature
	}

	processed, err := i.ledger.Processed(ctx, webhookProvider, event.ID)
	if err != nil {
		return fmt.Errorf("check event ledger: %w", err)
	}
	if processed {
		i.logger.Debug("webhook event replayed, skipping",
			"event_id", event.ID,
			"event_type", event.Type,
		)
		return nil
	}

	if err := i.dispatch(ctx, event); err != nil {
		return err
	}

	// Recording failures are tolerated: transitions are conditional, so a
	// redelivery that re-runs dispatch cannot double-apply side effects.
	if _, err := i.ledger.MarkProcessed(ctx, webhookProvider, event.ID, event.Type); err != nil {
		i.logger.Warn("failed to record processed webhook event",
			"event_id", event.ID,
			"error", err,
		)
	}
	return nil
}

func (i *Ingestor) dispatch(ctx context.Context, event WebhookEvent) error {
	switch event.Type {
	case "checkout.session.completed":
		return i.handleCheckoutCompleted(ctx, event)
	case "invoice.paid":
		return i.handleInvoicePaid(ctx, event)
	case "invoice.payment_failed":
		return i.handleInvoicePaymentFailed(ctx, event)
	case "customer.subscription.updated":
		return i.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return i.handleSubscriptionDeleted(ctx, event)
	default:
		i.logger.Debug("ignoring webhook event type", "event_type", event.Type)
		return nil
	}
}

func (i *Ingestor) handleCheckoutCompleted(ctx context.Context, event WebhookEvent) error {
	var session struct {
		ID                string            `json:"id"`
		Customer          string            `json:"customer"`
		Subscription      string            `json:"subscription"`
		ClientReferenceID string            `json:"client_reference_id"`
		Metadata          map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(event.Data, &session); err != nil {
		return fmt.Errorf("parse checkout session: %w", err)
	}

	userID, err := uuid.Parse(session.ClientReferenceID)
	if err != nil {
		return fmt.Errorf("checkout session %s carries no valid user reference: %w", session.ID, err)
	}

	plan := domain.SubscriptionPlan(session.Metadata["plan"])
	if !plan.Valid() {
		plan = domain.PlanMonthly
	}

	remote, err := i.processor.GetSubscription(ctx, session.Subscription)
	if err != nil {
		return fmt.Errorf("fetch processor subscription %s: %w", session.Subscription, err)
	}

	now := time.Now().UTC()
	sub := &domain.Subscription{
		ID:                   uuid.New(),
		UserID:               userID,
		Plan:                 plan,
		Status:               domain.SubscriptionActive,
		AutoRenewal:          !remote.CancelAtPeriodEnd,
		CurrentPeriodEnd:     remote.CurrentPeriodEnd,
		StripeCustomerID:     session.Customer,
		StripeSubscriptionID: session.Subscription,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := i.subscriptions.Upsert(ctx, sub); err != nil {
		return fmt.Errorf("persist subscription: %w", err)
	}

	_, err = i.lifecycle.Activate(ctx, sub, remote.CurrentPeriodEnd, "checkout")
	return err
}

func (i *Ingestor) handleInvoicePaid(ctx context.Context, event WebhookEvent) error {
	sub, err := i.subscriptionFromInvoice(ctx, event)
	if err != nil || sub == nil {
		return err
	}

	remote, err := i.processor.GetSubscription(ctx, sub.StripeSubscriptionID)
	if err != nil {
		return fmt.Errorf("fetch processor subscription %s: %w", sub.StripeSubscriptionID, err)
	}

	_, err = i.lifecycle.Activate(ctx, sub, remote.CurrentPeriodEnd, "invoice-paid")
	return err
}

func (i *Ingestor) handleInvoicePaymentFailed(ctx context.Context, event WebhookEvent) error {
	sub, err := i.subscriptionFromInvoice(ctx, event)
	if err != nil || sub == nil {
		return err
	}
	_, err = i.lifecycle.MarkPastDue(ctx, sub, "invoice-payment-failed")
	return err
}

func (i *Ingestor) handleSubscriptionUpdated(ctx context.Context, event WebhookEvent) error {
	var remote struct {
		ID                string `json:"id"`
		CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	}
	if err := json.Unmarshal(event.Data, &remote); err != nil {
		return fmt.Errorf("parse subscription object: %w", err)
	}

	sub, err := i.findLocal(ctx, remote.ID)
	if err != nil || sub == nil {
		return err
	}

	autoRenewal := !remote.CancelAtPeriodEnd
	if sub.AutoRenewal == autoRenewal {
		return nil
	}
	_, err = i.lifecycle.SetAutoRenewal(ctx, sub, autoRenewal, "processor-update")
	return err
}

func (i *Ingestor) handleSubscriptionDeleted(ctx context.Context, event WebhookEvent) error {
	var remote struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(event.Data, &remote); err != nil {
		return fmt.Errorf("parse subscription object: %w", err)
	}

	sub, err := i.findLocal(ctx, remote.ID)
	if err != nil || sub == nil {
		return err
	}
	_, err = i.lifecycle.Expire(ctx, sub, "processor-deleted")
	return err
}

func (i *Ingestor) subscriptionFromInvoice(ctx context.Context, event WebhookEvent) (*domain.Subscription, error) {
	var invoice struct {
		Subscription string `json:"subscription"`
	}
	if err := json.Unmarshal(event.Data, &invoice); err != nil {
		return nil, fmt.Errorf("parse invoice object: %w", err)
	}
	if invoice.Subscription == "" {
		// One-off invoice, nothing to reconcile.
		return nil, nil
	}
	return i.findLocal(ctx, invoice.Subscription)
}

// findLocal resolves a processor subscription id to our record. An unknown
// id is logged and dropped: retrying the delivery can never succeed, so a
// non-2xx would only make the processor hammer us.
func (i *Ingestor) findLocal(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	sub, err := i.subscriptions.FindByStripeSubscriptionID(ctx, stripeSubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		i.logger.Warn("webhook references unknown subscription",
			"stripe_subscription_id", stripeSubscriptionID,
		)
		return nil, nil
	}
	return sub, nil
}

func (i *Ingestor) publishRejected(ctx context.Context) {
	payload, err := json.Marshal(map[string]any{
		"provider":    webhookProvider,
		"occurred_at": time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := i.publisher.Publish(ctx, domain.RoutingWebhookRejected, payload); err != nil {
		i.logger.Debug("failed to publish webhook rejection", "error", err)
	}
}
