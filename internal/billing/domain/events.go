package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys for billing events on the topic exchange.
const (
	RoutingSubscriptionActivated = "billing.subscription.activated"
	RoutingSubscriptionPastDue   = "billing.subscription.past_due"
	RoutingSubscriptionExpired   = "billing.subscription.expired"
	RoutingSubscriptionRenewal   = "billing.subscription.renewal_changed"
	RoutingWebhookRejected       = "billing.webhook.rejected"
)

// SubscriptionEvent is published when a lifecycle transition lands.
type SubscriptionEvent struct {
	EventID        uuid.UUID          `json:"event_id"`
	SubscriptionID uuid.UUID          `json:"subscription_id"`
	UserID         uuid.UUID          `json:"user_id"`
	Status         SubscriptionStatus `json:"status"`
	AutoRenewal    bool               `json:"auto_renewal"`
	Trigger        string             `json:"trigger"`
	OccurredAt     time.Time          `json:"occurred_at"`
}
