package stripegw

import (
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/felixgeelhaar/scholaris/internal/billing/application"
)

// WebhookVerifier checks Stripe webhook signatures. ConstructEvent verifies
// the signature over the exact raw payload bytes and rejects stale
// timestamps, so a replayed or tampered delivery never reaches dispatch.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier creates a verifier for the endpoint's signing secret.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// VerifyAndParse validates the Stripe-Signature header against the payload
// and returns the normalized event.
func (v *WebhookVerifier) VerifyAndParse(payload []byte, signatureHeader string) (application.WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, v.secret)
	if err != nil {
		return application.WebhookEvent{}, err
	}
	return application.WebhookEvent{
		ID:   event.ID,
		Type: string(event.Type),
		Data: event.Data.Raw,
	}, nil
}
