package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/scholaris/internal/billing/application"
	"github.com/felixgeelhaar/scholaris/internal/billing/domain"
	"github.com/felixgeelhaar/scholaris/internal/reauth"
)

var errMissingUser = errors.New("api: missing or invalid user identity")

// BillingHandler serves the user-facing billing endpoints.
type BillingHandler struct {
	service  *application.Service
	gate     *reauth.Gate
	tokenTTL time.Duration
}

// NewBillingHandler creates the handler set.
func NewBillingHandler(service *application.Service, gate *reauth.Gate, tokenTTL time.Duration) *BillingHandler {
	return &BillingHandler{service: service, gate: gate, tokenTTL: tokenTTL}
}

func requestUser(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.Header.Get(headerUserID))
	if err != nil {
		return uuid.Nil, errMissingUser
	}
	return id, nil
}

type subscriptionResponse struct {
	ID               uuid.UUID `json:"id"`
	Plan             string    `json:"plan"`
	Status           string    `json:"status"`
	AutoRenewal      bool      `json:"auto_renewal"`
	CurrentPeriodEnd time.Time `json:"current_period_end"`
}

func toSubscriptionResponse(sub *domain.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:               sub.ID,
		Plan:             string(sub.Plan),
		Status:           string(sub.Status),
		AutoRenewal:      sub.AutoRenewal,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
	}
}

// GetSubscription returns the caller's subscription.
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := h.service.GetSubscription(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

type checkoutResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// CreateCheckout opens a processor-hosted checkout for a new subscription.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, application.ErrInvalidPlan)
		return
	}
	session, err := h.service.CreateCheckout(r.Context(), userID, domain.SubscriptionPlan(req.Plan))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{SessionID: session.ID, CheckoutURL: session.URL})
}

// CancelSubscription schedules cancellation at period end.
func (h *BillingHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.service.CancelSubscription(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation_scheduled"})
}

// ReactivateSubscription undoes a pending cancellation.
func (h *BillingHandler) ReactivateSubscription(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.service.ReactivateSubscription(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reactivated"})
}

type reauthResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in_seconds"`
}

// IssueReauthToken exchanges a fresh password proof for a single-use token,
// letting clients pre-authorize one destructive call without holding the
// password in memory.
func (h *BillingHandler) IssueReauthToken(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	password := r.Header.Get(headerReauthPassword)
	if password == "" {
		writeError(w, r, reauth.ErrRequired)
		return
	}
	token, err := h.gate.Issue(r.Context(), userID, password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reauthResponse{
		Token:     token,
		ExpiresIn: int64(h.tokenTTL.Seconds()),
	})
}

type paymentMethodResponse struct {
	ID        uuid.UUID `json:"id"`
	Brand     string    `json:"brand"`
	Last4     string    `json:"last4"`
	ExpMonth  int64     `json:"exp_month"`
	ExpYear   int64     `json:"exp_year"`
	IsDefault bool      `json:"is_default"`
}

func toPaymentMethodResponse(m domain.PaymentMethod) paymentMethodResponse {
	return paymentMethodResponse{
		ID:        m.ID,
		Brand:     m.Brand,
		Last4:     m.Last4,
		ExpMonth:  m.ExpMonth,
		ExpYear:   m.ExpYear,
		IsDefault: m.IsDefault,
	}
}

// ListPaymentMethods returns the caller's stored payment methods.
func (h *BillingHandler) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	methods, err := h.service.ListPaymentMethods(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]paymentMethodResponse, 0, len(methods))
	for _, m := range methods {
		out = append(out, toPaymentMethodResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

type addPaymentMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
}

// AddPaymentMethod attaches a tokenized payment method to the caller.
func (h *BillingHandler) AddPaymentMethod(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req addPaymentMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PaymentMethodID == "" {
		writeError(w, r, domain.ErrPaymentMethodNotFound)
		return
	}
	method, err := h.service.AddPaymentMethod(r.Context(), userID, req.PaymentMethodID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentMethodResponse(*method))
}

// SetDefaultPaymentMethod marks a stored method as the default.
func (h *BillingHandler) SetDefaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	methodID, err := uuid.Parse(chi.URLParam(r, "methodID"))
	if err != nil {
		writeError(w, r, domain.ErrPaymentMethodNotFound)
		return
	}
	if err := h.service.SetDefaultPaymentMethod(r.Context(), userID, methodID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "default_updated"})
}

// DeletePaymentMethod detaches and removes a stored method.
func (h *BillingHandler) DeletePaymentMethod(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	methodID, err := uuid.Parse(chi.URLParam(r, "methodID"))
	if err != nil {
		writeError(w, r, domain.ErrPaymentMethodNotFound)
		return
	}
	if err := h.service.DeletePaymentMethod(r.Context(), userID, methodID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type invoiceResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	AmountDue int64     `json:"amount_due"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// ListInvoices returns the caller's invoice history.
func (h *BillingHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	invoices, err := h.service.ListInvoices(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]invoiceResponse, 0, len(invoices))
	for _, in := range invoices {
		out = append(out, invoiceResponse{
			ID:        in.ID,
			Status:    in.Status,
			AmountDue: in.AmountDue,
			Currency:  in.Currency,
			CreatedAt: in.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
