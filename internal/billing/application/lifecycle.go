package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/scholaris/internal/billing/domain"
	"github.com/felixgeelhaar/scholaris/internal/shared/infrastructure/eventbus"
)

// Lifecycle drives subscription state transitions. Every transition is a
// conditional update keyed on the current status, so the webhook driver and
// the reconciliation sweep can run concurrently against the same record
// without a stale write clobbering a newer one.
type Lifecycle struct {
	subscriptions domain.SubscriptionRepository
	users         domain.UserRepository
	publisher     eventbus.Publisher
	logger        *slog.Logger
}

// NewLifecycle creates the transition engine.
func NewLifecycle(
	subscriptions domain.SubscriptionRepository,
	users domain.UserRepository,
	publisher eventbus.Publisher,
	logger *slog.Logger,
) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = eventbus.NewNoopPublisher(logger)
	}
	return &Lifecycle{
		subscriptions: subscriptions,
		users:         users,
		publisher:     publisher,
		logger:        logger,
	}
}

// Activate moves a subscription to active and restores the owner's premium
// role. Used when an invoice is paid, covering both recovery from past_due
// and period renewal while active. Reports whether the transition landed.
func (l *Lifecycle) Activate(ctx context.Context, sub *domain.Subscription, periodEnd time.Time, trigger string) (bool, error) {
	landed, err := l.subscriptions.UpdateStatus(ctx, sub.ID,
		[]domain.SubscriptionStatus{domain.SubscriptionActive, domain.SubscriptionPastDue},
		domain.SubscriptionActive, &periodEnd)
	if err != nil || !landed {
		return landed, err
	}

	if err := l.users.SetRole(ctx, sub.UserID, domain.RolePremium); err != nil {
		return true, err
	}

	l.publish(ctx, domain.RoutingSubscriptionActivated, sub, domain.SubscriptionActive, trigger)
	l.logger.Info("subscription activated",
		"subscription_id", sub.ID,
		"user_id", sub.UserID,
		"trigger", trigger,
	)
	return true, nil
}

// MarkPastDue moves an active subscription to past_due after a failed
// payment. The role is kept until the grace period elapses.
func (l *Lifecycle) MarkPastDue(ctx context.Context, sub *domain.Subscription, trigger string) (bool, error) {
	landed, err := l.subscriptions.UpdateStatus(ctx, sub.ID,
		[]domain.SubscriptionStatus{domain.SubscriptionActive},
		domain.SubscriptionPastDue, nil)
	if err != nil || !landed {
		return landed, err
	}

	l.publish(ctx, domain.RoutingSubscriptionPastDue, sub, domain.SubscriptionPastDue, trigger)
	l.logger.Warn("subscription past due",
		"subscription_id", sub.ID,
		"user_id", sub.UserID,
		"trigger", trigger,
	)
	return true, nil
}

// Expire moves a subscription to its terminal state and downgrades the
// owner's role to the free tier.
func (l *Lifecycle) Expire(ctx context.Context, sub *domain.Subscription, trigger string) (bool, error) {
	landed, err := l.subscriptions.UpdateStatus(ctx, sub.ID,
		[]domain.SubscriptionStatus{domain.SubscriptionActive, domain.SubscriptionPastDue},
		domain.SubscriptionExpired, nil)
	if err != nil || !landed {
		return landed, err
	}

	if err := l.users.SetRole(ctx, sub.UserID, domain.RoleFree); err != nil {
		return true, err
	}

	l.publish(ctx, domain.RoutingSubscriptionExpired, sub, domain.SubscriptionExpired, trigger)
	l.logger.Info("subscription expired",
		"subscription_id", sub.ID,
		"user_id", sub.UserID,
		"trigger", trigger,
	)
	return true, nil
}

// SetAutoRenewal flips the renewal flag without changing status; the status
// catches up at period end. Reports whether the update landed.
func (l *Lifecycle) SetAutoRenewal(ctx context.Context, sub *domain.Subscription, autoRenewal bool, trigger string) (bool, error) {
	landed, err := l.subscriptions.SetAutoRenewal(ctx, sub.ID, autoRenewal)
	if err != nil || !landed {
		return landed, err
	}

	event := domain.SubscriptionEvent{
		EventID:        uuid.New(),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Status:         sub.Status,
		AutoRenewal:    autoRenewal,
		Trigger:        trigger,
		OccurredAt:     time.Now().UTC(),
	}
	l.publishEvent(ctx, domain.RoutingSubscriptionRenewal, event)
	return true, nil
}

func (l *Lifecycle) publish(ctx context.Context, routingKey string, sub *domain.Subscription, status domain.SubscriptionStatus, trigger string) {
	event := domain.SubscriptionEvent{
		EventID:        uuid.New(),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Status:         status,
		AutoRenewal:    sub.AutoRenewal,
		Trigger:        trigger,
		OccurredAt:     time.Now().UTC(),
	}
	l.publishEvent(ctx, routingKey, event)
}

// publishEvent is best-effort: the transition has already landed and a
// broker outage must not fail the request or the sweep record.
func (l *Lifecycle) publishEvent(ctx context.Context, routingKey string, event domain.SubscriptionEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		l.logger.Error("failed to marshal subscription event", "error", err)
		return
	}
	if err := l.publisher.Publish(ctx, routingKey, payload); err != nil {
		l.logger.Warn("failed to publish subscription event",
			"routing_key", routingKey,
			"subscription_id", event.SubscriptionID,
			"error", err,
		)
	}
}
