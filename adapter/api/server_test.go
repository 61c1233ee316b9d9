package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/felixgeelhaar/scholaris/internal/billing/application"
	"github.com/felixgeelhaar/scholaris/internal/billing/domain"
	"github.com/felixgeelhaar/scholaris/internal/integrity"
	"github.com/felixgeelhaar/scholaris/internal/ratelimit"
	"github.com/felixgeelhaar/scholaris/internal/reauth"
	"github.com/felixgeelhaar/scholaris/internal/shared/infrastructure/kv"
)

const (
	testSecret   = "integration-test-secret"
	testPassword = "correct horse battery staple"
)

// memSubscriptionRepo is the minimal in-memory repo the HTTP tests need.
type memSubscriptionRepo struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*domain.Subscription
}

func (r *memSubscriptionRepo) Upsert(_ context.Context, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *sub
	r.subs[sub.ID] = &clone
	return nil
}

func (r *memSubscriptionRepo) FindByUserID(_ context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.Subscription
	for _, sub := range r.subs {
		if sub.UserID != userID {
			continue
		}
		// Live rows win over expired history, newer over older.
		if best == nil ||
			(best.Status.Terminal() && !sub.Status.Terminal()) ||
			(best.Status.Terminal() == sub.Status.Terminal() && sub.CreatedAt.After(best.CreatedAt)) {
			best = sub
		}
	}
	if best == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	clone := *best
	return &clone, nil
}

func (r *memSubscriptionRepo) FindByStripeSubscriptionID(_ context.Context, stripeID string) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.StripeSubscriptionID == stripeID {
			clone := *sub
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *memSubscriptionRepo) UpdateStatus(_ context.Context, id uuid.UUID, from []domain.SubscriptionStatus, to domain.SubscriptionStatus, periodEnd *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if sub.Status == s {
			sub.Status = to
			if periodEnd != nil {
				sub.CurrentPeriodEnd = *periodEnd
			}
			sub.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (r *memSubscriptionRepo) SetAutoRenewal(_ context.Context, id uuid.UUID, autoRenewal bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok || sub.Status.Terminal() {
		return false, nil
	}
	sub.AutoRenewal = autoRenewal
	return true, nil
}

func (r *memSubscriptionRepo) ListLapsedNonRenewing(context.Context, time.Time) ([]*domain.Subscription, error) {
	return nil, nil
}

func (r *memSubscriptionRepo) ListPastDueUpdatedBefore(context.Context, time.Time) ([]*domain.Subscription, error) {
	return nil, nil
}

type memUserRepo struct {
	hash   string
	emails map[uuid.UUID]string
	mu     sync.Mutex
	roles  map[uuid.UUID]domain.Role
}

func (r *memUserRepo) Role(_ context.Context, id uuid.UUID) (domain.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roles[id], nil
}

func (r *memUserRepo) SetRole(_ context.Context, id uuid.UUID, role domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[id] = role
	return nil
}

func (r *memUserRepo) PasswordHash(context.Context, uuid.UUID) (string, error) {
	return r.hash, nil
}

func (r *memUserRepo) Email(_ context.Context, id uuid.UUID) (string, error) {
	if email, ok := r.emails[id]; ok {
		return email, nil
	}
	return "student@example.com", nil
}

type memPaymentMethodRepo struct {
	mu      sync.Mutex
	methods map[uuid.UUID]*domain.PaymentMethod
}

func (r *memPaymentMethodRepo) Create(_ context.Context, m *domain.PaymentMethod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *m
	r.methods[m.ID] = &clone
	return nil
}

func (r *memPaymentMethodRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.PaymentMethod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.methods[id]; ok {
		clone := *m
		return &clone, nil
	}
	return nil, domain.ErrPaymentMethodNotFound
}

func (r *memPaymentMethodRepo) ListByUserID(_ context.Context, userID uuid.UUID) ([]domain.PaymentMethod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PaymentMethod
	for _, m := range r.methods {
		if m.UserID == userID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *memPaymentMethodRepo) SetDefault(_ context.Context, userID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.methods {
		if m.UserID == userID {
			m.IsDefault = m.ID == id
		}
	}
	return nil
}

func (r *memPaymentMethodRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.methods, id)
	return nil
}

type stubProcessor struct{}

func (stubProcessor) CreateCustomer(context.Context, string) (string, error) {
	return "cus_test", nil
}

func (stubProcessor) CreateCheckoutSession(_ context.Context, _, _ string, plan domain.SubscriptionPlan) (domain.CheckoutSession, error) {
	return domain.CheckoutSession{ID: "cs_test", URL: "https://checkout.example/cs_test"}, nil
}

func (stubProcessor) GetSubscription(context.Context, string) (domain.ProcessorSubscription, error) {
	return domain.ProcessorSubscription{
		ID:               "sub_remote",
		Status:           "active",
		CurrentPeriodEnd: time.Now().Add(30 * 24 * time.Hour).UTC(),
	}, nil
}

func (stubProcessor) CancelAtPeriodEnd(context.Context, string) error { return nil }
func (stubProcessor) Reactivate(context.Context, string) error        { return nil }

func (stubProcessor) ListPaymentMethods(context.Context, string) ([]domain.ProcessorPaymentMethod, error) {
	return nil, nil
}

func (stubProcessor) AttachPaymentMethod(_ context.Context, _, id string) (domain.ProcessorPaymentMethod, error) {
	return domain.ProcessorPaymentMethod{ID: id, Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030}, nil
}

func (stubProcessor) DetachPaymentMethod(context.Context, string) error { return nil }

func (stubProcessor) SetDefaultPaymentMethod(context.Context, string, string) error { return nil }

func (stubProcessor) ListInvoices(context.Context, string) ([]domain.Invoice, error) {
	return []domain.Invoice{{ID: "in_1", Status: "paid", AmountDue: 999, Currency: "usd"}}, nil
}

type stubWebhookVerifier struct {
	event application.WebhookEvent
}

func (v *stubWebhookVerifier) VerifyAndParse(payload []byte, header string) (application.WebhookEvent, error) {
	if header != "whsec-valid" {
		return application.WebhookEvent{}, fmt.Errorf("bad signature")
	}
	event := v.event
	if len(event.Data) == 0 {
		event.Data = payload
	}
	return event, nil
}

type apiHarness struct {
	server   *httptest.Server
	signer   *integrity.Signer
	repo     *memSubscriptionRepo
	users    *memUserRepo
	verifier *stubWebhookVerifier
	userID   uuid.UUID
}

type harnessOptions struct {
	billingLimit int
	cardsLimit   int
	webhookLimit int
}

func newAPIHarness(t *testing.T, opts harnessOptions) *apiHarness {
	t.Helper()

	if opts.billingLimit == 0 {
		opts.billingLimit = 100
	}
	if opts.cardsLimit == 0 {
		opts.cardsLimit = 100
	}
	if opts.webhookLimit == 0 {
		opts.webhookLimit = 100
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	repo := &memSubscriptionRepo{subs: make(map[uuid.UUID]*domain.Subscription)}
	users := &memUserRepo{hash: string(hash), roles: make(map[uuid.UUID]domain.Role), emails: make(map[uuid.UUID]string)}
	methods := &memPaymentMethodRepo{methods: make(map[uuid.UUID]*domain.PaymentMethod)}
	processor := stubProcessor{}

	store := kv.NewMemoryStore()
	window := 30 * time.Second
	verifier := integrity.NewVerifier(testSecret, window, integrity.NewNonceGuard(store, window))
	signer := integrity.NewSigner(testSecret)
	gate := reauth.NewGate(reauth.NewBcryptVerifier(users), store, 5*time.Minute)

	lifecycle := application.NewLifecycle(repo, users, nil, nil)
	service := application.NewService(repo, methods, users, processor, lifecycle, nil)
	webhookVerifier := &stubWebhookVerifier{}
	ingestor := application.NewIngestor(webhookVerifier, memLedger{store: store}, repo, processor, lifecycle, nil, nil)

	billing := NewBillingHandler(service, gate, 5*time.Minute)
	webhooks := NewWebhookHandler(ingestor)

	srv := NewServer(DefaultServerConfig(), billing, webhooks, verifier, signer, gate, Limiters{
		Billing: ratelimit.New("billing", store, opts.billingLimit, time.Minute),
		Cards:   ratelimit.New("cards", store, opts.cardsLimit, time.Minute),
		Webhook: ratelimit.New("webhook", store, opts.webhookLimit, time.Minute),
	}, nil, nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &apiHarness{
		server:   ts,
		signer:   signer,
		repo:     repo,
		users:    users,
		verifier: webhookVerifier,
		userID:   uuid.New(),
	}
}

// memLedger stores processed ids in the kv store, enough for HTTP tests.
type memLedger struct{ store kv.Store }

func (l memLedger) Processed(ctx context.Context, provider, eventID string) (bool, error) {
	_, err := l.store.Get(ctx, "evt:"+provider+":"+eventID)
	if err == kv.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (l memLedger) MarkProcessed(ctx context.Context, provider, eventID, _ string) (bool, error) {
	return l.store.SetNX(ctx, "evt:"+provider+":"+eventID, "1", time.Hour)
}

func (h *apiHarness) seedActiveSubscription(t *testing.T) *domain.Subscription {
	t.Helper()
	sub := &domain.Subscription{
		ID:                   uuid.New(),
		UserID:               h.userID,
		Plan:                 domain.PlanMonthly,
		Status:               domain.SubscriptionActive,
		AutoRenewal:          true,
		CurrentPeriodEnd:     time.Now().Add(30 * 24 * time.Hour).UTC(),
		StripeCustomerID:     "cus_test",
		StripeSubscriptionID: "sub_local",
	}
	require.NoError(t, h.repo.Upsert(context.Background(), sub))
	return sub
}

// signRequest attaches a valid integrity signature for the payload.
func signRequest(req *http.Request, body []byte) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := uuid.NewString()

	sum := sha256.Sum256(body)
	canonical := strings.Join([]string{
		strings.ToUpper(req.Method),
		req.URL.Path,
		timestamp,
		nonce,
		hex.EncodeToString(sum[:]),
	}, "\n")
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(canonical))

	req.Header.Set(headerTxnTimestamp, timestamp)
	req.Header.Set(headerTxnNonce, nonce)
	req.Header.Set(headerTxnSignature, hex.EncodeToString(mac.Sum(nil)))
}

func (h *apiHarness) newRequest(t *testing.T, method, path string, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(headerUserID, h.userID.String())
	req.Header.Set("Content-Type", "application/json")
	return req
}

func do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error.Kind
}

func decodeSigned(t *testing.T, resp *http.Response, out any) signedResponse {
	t.Helper()
	var envelope signedResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	if out != nil {
		require.NoError(t, json.Unmarshal(envelope.Data, out))
	}
	return envelope
}

func TestSignedResponseVerifies(t *testing.T) {
	h := newAPIHarness(t, harnessOptions{})
	h.seedActiveSubscription(t)

	resp := do(t, h.newRequest(t, http.MethodGet, "/api/v1/billing/subscription", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, integrity.Algorithm, resp.Header.Get("X-Signature-Algorithm"))
	require.NotEmpty(t, resp.Header.Get("X-Transaction-Id"))

	var sub subscriptionResponse
	envelope := decodeSigned(t, resp, &sub)
	require.Equal(t, "active", sub.Status)

	// Header and body metadata agree, and the signature covers the data
	// payload byte for byte.
	require.Equal(t, resp.Header.Get(headerTxnSignature), envelope.Security.Signature)
	ok := h.signer.VerifyTransaction(integrity.Transaction{
		ID:        envelope.Security.TransactionID,
		Timestamp: envelope.Security.Timestamp,
		Nonce:     envelope.Security.Nonce,
		Signature: envelope.Security.Signature,
		Algorithm: envelope.Security.Algorithm,
	}, []byte(envelope.Data))
	require.True(t, ok)
}

func TestErrorResponsesAreUnsigned(t *testing.T) {
	h := newAPIHarness(t, harnessOptions{})

	resp := do(t, h.newRequest(t, http.MethodGet, "/api/v1/billing/subscription", nil))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Empty(t, resp.Header.Get(headerTxnSignature))
	require.Equal(t, "billing:not-found", decodeError(t, resp))
}

func TestMutatingEndpointRequiresSignature(t *testing.T) {
	h := newAPIHarness(t, harnessOptions{})
	body := []byte(`{"plan":"monthly"}`)

	resp := do(t, h.newRequest(t, http.MethodPost, "/api/v1/billing/checkout", body))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "integrity:missing-fields", decodeError(t, resp))
}

func TestSignedCheckoutSucceeds(t *testing.T) {
	h := newAPIHarness(t, harnessOptions{})
	body := []byte(`{"plan":"monthly"}`)

	req := h.newRequest(t, http.MethodPost, "/api/v1/billing/checkout", body)
	signRequest(req, body)
	resp := do(t, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out checkoutResponse
	decodeSigned(t, resp, &out)
	require.Equal(t, "cs_test", out.SessionID)
	require.NotEmpty(t, out.CheckoutURL)
}

func TestTamperedBodyRejected(t *testing.T) {
	h := newAPIHarness(t, harnessOptions{})
	signedOver := []byte(`{"plan":"monthly"}`)
	sent := []byte(`{"plan":"yearly"}`)

	req := h.newRequest(t, http.MethodPost, "/api/v1/billing/checkout", sent)
	// Signature computed over a different body.
	probe, err := http.NewRequest(http.MethodPost, req.URL.String(), nil)
	require.NoError(t, err)
	signRequest(probe, signedOver)
	for _, k := range []string{headerTxnTimestamp, headerTxnNonce, headerTxnSignature} {
		req.Header.Set(k, probe.Header.Get(k))
	}

	resp := do(t, req)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "integrity:signature-mismatch", decodeError(t, resp))
}

func TestReplayedNonceRejected(t *testing.T) {
	h := newAPIHarness(t, harnessOptions{})
	h.seedActiveSubscription(t)
	body := []byte(`{}`)

	req := h.newRequest(t, http.MethodPost, "/api/v1/billing/subscription/reactivate", body)
	signRequest(req, body)
	headers := req.Header.Clone()

	resp := do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	replay := h.newRequest(t, http.MethodPost, "/api/v1/billing/subscription/reactivate", body)
	replay.Header = headers
	resp = do(t, replay)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "integrity:nonce-reused", decodeError(t, resp))
}

func TestStaleTimestampRejected(t *testing.T) {
	h := newAPIHarness(t, harnessOptions{})
	body := []byte(`{"plan":"monthly"}`)

	req := h.newRequest(t, http.MethodPost, "/api/v1/billing/checkout", body)
	signRequest(req, body)
	// Re-sign with a timestamp outside the window; signature must match the
	// stale timestamp for the failure to be about staleness, so rebuild it.
	stale := strconv.FormatInt(time.Now().Add(-45*time.Second).Unix(), 10)
	sum := sha256.Sum256(body)
	canonical := strings.Join([]string{
		"POST", "/api/v1/billing/checkout", stale,
		req.Header.Get(headerTxnNonce), hex.EncodeToString(sum[:]),
	}, "\n")
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(canonical))
	req.Header.Set(headerTxnTimestamp, stale)
	req.Header.Set(headerTxnSignature, hex.EncodeToString(mac.Sum(nil)))

	resp := do(t, req)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "integrity:stale-timestamp", decodeError(t, resp))
}

func TestRateLimitExhaustion(t *testing.T) {
	h := newAPIHarness(t, harnessOptions{billingLimit: 2})
	h.seedActiveSubscription(t)

	for i := 0; i < 2; i++ {
		resp := do(t, h.newRequest(t, http.MethodGet, "/api/v1/billing/subscription", nil))
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := do(t, h.newRequest(t, http.MethodGet, "/api/v1/billing/subscription", nil))
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "0", resp.Header.Get("RateLimit-Remaining"))
	require.Equal(t, "2", resp.Header.Get("RateLimit-Limit"))
	require.NotEmpty(t, resp.Header.Get("RateLimit-Reset"))
	require.Equal(t, "rate-limit:exceeded", decodeError(t, resp))
}

func TestRateLimitIsPerIdentity(t *testing.T) {
	h := newAPIHarness(t, harnessOptions{billingLimit: 1})
	h.seedActiveSubscription(t)

	resp := do(t, h.newRequest(t, http.MethodGet, "/api/v1/billing/subscription", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	other := h.newRequest(t, http.MethodGet, "/api/v1/billing/subscription", nil)
	other.Header.Set(headerUserID, uuid.NewString())
	resp = do(t, other)
	// Different identity, fresh budget; 404 proves it reached the handler.
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelRequiresReauth(t *testing.T) {
	h := newAPIHarness(t, harnessOptions{})
	h.seedActiveSubscription(t)
	body := []byte(`{}`)

	req := h.newRequest(t, http.MethodPost, "/api/v1/billing/subscription/cancel", body)
	signRequest(req, body)
	resp := do(t, req)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "reauth:required", decodeError(t, resp))
}

func TestCancelWithPassword(t *testing.T) {
	h := newAPIHarness(t, harnessOptions{})
	sub := h.seedActiveSubscription(t)
	body := []byte(`{}`)

	req := h.newRequest(t, http.MethodPost, "/api/v1/billing/subscription/cancel", body)
	signRequest(req, body)
	req.Header.Set(headerReauthPassword, testPassword)
	resp := do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := h.repo.FindByUserID(context.Background(), sub.UserID)
	require.NoError(t, err)
	require.False(t, got.AutoRenewal)
}

func TestCancelWithWrongPassword(t *testing.T) {
	h := newAPIHarness(t, harnessOptions{})
	h.seedActiveSubscription(t)
	body := []byte(`{}`)

	req := h.newRequest(t, http.MethodPost, "/api/v1/billing/subscription/cancel", body)
	signRequest(req, body)
	req.Header.Set(headerReauthPassword, "guess")
	resp := do(t, req)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "reauth:invalid", decodeError(t, resp))
}

func TestReauthTokenFlowIsSingleUse(t *testing.T) {
	h := newAPIHarness(t, harnessOptions{})
	h.seedActiveSubscription(t)
	body := []byte(`{}`)

	issue := h.newRequest(t, http.MethodPost, "/api/v1/billing/reauth", body)
	signRequest(issue, body)
	issue.Header.Set(headerReauthPassword, testPassword)
	resp := do(t, issue)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out reauthResponse
	decodeSigned(t, resp, &out)
	require.NotEmpty(t, out.Token)

	cancel := h.newRequest(t, http.MethodPost, "/api/v1/billing/subscription/cancel", body)
	signRequest(cancel, body)
	cancel.Header.Set(headerReauthToken, out.Token)
	resp = do(t, cancel)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The token was consumed; a second destructive call needs fresh proof.
	again := h.newRequest(t, http.MethodPost, "/api/v1/billing/subscription/cancel", body)
	signRequest(again, body)
	again.Header.Set(headerReauthToken, out.Token)
	resp = do(t, again)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "reauth:expired", decodeError(t, resp))
}

func TestCardOperationGuards(t *testing.T) {
	h := newAPIHarness(t, harnessOptions{})
	h.seedActiveSubscription(t)
	body := []byte(`{"payment_method_id":"pm_tok"}`)

	// Signed but no reauth proof.
	req := h.newRequest(t, http.MethodPost, "/api/v1/billing/payment-methods", body)
	signRequest(req, body)
	resp := do(t, req)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Signed and proven.
	req = h.newRequest(t, http.MethodPost, "/api/v1/billing/payment-methods", body)
	signRequest(req, body)
	req.Header.Set(headerReauthPassword, testPassword)
	resp = do(t, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var method paymentMethodResponse
	decodeSigned(t, resp, &method)
	require.Equal(t, "visa", method.Brand)
	require.True(t, method.IsDefault)
}

func TestWebhookBadSignature(t *testing.T) {
	h := newAPIHarness(t, harnessOptions{})

	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	req.Header.Set("Stripe-Signature", "forged")
	resp := do(t, req)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "webhook:signature", decodeError(t, resp))
}

func TestWebhookDeliveryExpiresSubscription(t *testing.T) {
	h := newAPIHarness(t, harnessOptions{})
	sub := h.seedActiveSubscription(t)

	payload, err := json.Marshal(map[string]string{"id": sub.StripeSubscriptionID})
	require.NoError(t, err)
	h.verifier.event = application.WebhookEvent{
		ID:   "evt_http",
		Type: "customer.subscription.deleted",
		Data: payload,
	}

	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/webhooks/stripe", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Stripe-Signature", "whsec-valid")
	resp := do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := h.repo.FindByUserID(context.Background(), sub.UserID)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionExpired, got.Status)
}

func TestRequestIDPropagated(t *testing.T) {
	h := newAPIHarness(t, harnessOptions{})

	req := h.newRequest(t, http.MethodGet, "/health", nil)
	req.Header.Set(headerRequestID, "req-abc")
	resp := do(t, req)
	require.Equal(t, "req-abc", resp.Header.Get(headerRequestID))
}
