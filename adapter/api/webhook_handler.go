package api

import (
	"io"
	"net/http"

	"github.com/felixgeelhaar/scholaris/internal/billing/application"
)

// WebhookHandler receives payment processor deliveries.
type WebhookHandler struct {
	ingestor *application.Ingestor
}

// NewWebhookHandler creates the handler.
func NewWebhookHandler(ingestor *application.Ingestor) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor}
}

// HandleStripe ingests one Stripe delivery. The body is passed through as
// exact raw bytes; signature verification depends on them. A 2xx goes out
// only after successful verification and processing, so Stripe's
// retry-on-failure policy is safe.
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	if err := h.ingestor.Ingest(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
