package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/scholaris/internal/billing/domain"
)

// fakeSubscriptionRepo is an in-memory SubscriptionRepository with the same
// conditional-update semantics as the postgres implementation.
type fakeSubscriptionRepo struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*domain.Subscription

	failUpdate error
	failList   error
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{subs: make(map[uuid.UUID]*domain.Subscription)}
}

func (r *fakeSubscriptionRepo) put(sub *domain.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *sub
	r.subs[sub.ID] = &clone
}

func (r *fakeSubscriptionRepo) get(id uuid.UUID) *domain.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[id]; ok {
		clone := *sub
		return &clone
	}
	return nil
}

func (r *fakeSubscriptionRepo) Upsert(_ context.Context, sub *domain.Subscription) error {
	r.put(sub)
	return nil
}

func (r *fakeSubscriptionRepo) FindByUserID(_ context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.Subscription
	for _, sub := range r.subs {
		if sub.UserID != userID {
			continue
		}
		if best == nil || better(sub, best) {
			best = sub
		}
	}
	if best == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	clone := *best
	return &clone, nil
}

// better mirrors the postgres lookup: live rows beat expired ones, newer
// beats older.
func better(a, b *domain.Subscription) bool {
	if a.Status.Terminal() != b.Status.Terminal() {
		return !a.Status.Terminal()
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func (r *fakeSubscriptionRepo) FindByStripeSubscriptionID(_ context.Context, stripeID string) (*domain.Subscription, error) {
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

func (r *fakeSubscriptionRepo) UpdateStatus(_ context.Context, id uuid.UUID, from []domain.SubscriptionStatus, to domain.SubscriptionStatus, periodEnd *time.Time) (bool, error) {
	if r.failUpdate != nil {
		return false, r.failUpdate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, s := range from {
		if sub.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	sub.Status = to
	if periodEnd != nil {
		sub.CurrentPeriodEnd = *periodEnd
	}
	sub.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *fakeSubscriptionRepo) SetAutoRenewal(_ context.Context, id uuid.UUID, autoRenewal bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok || sub.Status.Terminal() {
		return false, nil
	}
	sub.AutoRenewal = autoRenewal
	sub.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *fakeSubscriptionRepo) ListLapsedNonRenewing(_ context.Context, now time.Time) ([]*domain.Subscription, error) {
	if r.failList != nil {
		return nil, r.failList
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Subscription
	for _, sub := range r.subs {
		if sub.Lapsed(now) {
			clone := *sub
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeSubscriptionRepo) ListPastDueUpdatedBefore(_ context.Context, cutoff time.Time) ([]*domain.Subscription, error) {
	if r.failList != nil {
		return nil, r.failList
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Subscription
	for _, sub := range r.subs {
		if sub.Status == domain.SubscriptionPastDue && sub.UpdatedAt.Before(cutoff) {
			clone := *sub
			out = append(out, &clone)
		}
	}
	return out, nil
}

type fakeUserRepo struct {
	mu          sync.Mutex
	roles       map[uuid.UUID]domain.Role
	emails      map[uuid.UUID]string
	hashes      map[uuid.UUID]string
	failSetRole map[uuid.UUID]error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		roles:  make(map[uuid.UUID]domain.Role),
		emails: make(map[uuid.UUID]string),
		hashes: make(map[uuid.UUID]string),
	}
}

func (r *fakeUserRepo) Role(_ context.Context, userID uuid.UUID) (domain.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[userID]
	if !ok {
		return "", domain.ErrUserNotFound
	}
	return role, nil
}

func (r *fakeUserRepo) SetRole(_ context.Context, userID uuid.UUID, role domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failSetRole[userID]; err != nil {
		return err
	}
	r.roles[userID] = role
	return nil
}

func (r *fakeUserRepo) PasswordHash(_ context.Context, userID uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hash, ok := r.hashes[userID]
	if !ok {
		return "", domain.ErrUserNotFound
	}
	return hash, nil
}

func (r *fakeUserRepo) Email(_ context.Context, userID uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email, ok := r.emails[userID]
	if !ok {
		return "", domain.ErrUserNotFound
	}
	return email, nil
}

type fakePaymentMethodRepo struct {
	mu      sync.Mutex
	methods map[uuid.UUID]*domain.PaymentMethod
}

func newFakePaymentMethodRepo() *fakePaymentMethodRepo {
	return &fakePaymentMethodRepo{methods: make(map[uuid.UUID]*domain.PaymentMethod)}
}

func (r *fakePaymentMethodRepo) Create(_ context.Context, m *domain.PaymentMethod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *m
	r.methods[m.ID] = &clone
	return nil
}

func (r *fakePaymentMethodRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.PaymentMethod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.methods[id]
	if !ok {
		return nil, domain.ErrPaymentMethodNotFound
	}
	clone := *m
	return &clone, nil
}

func (r *fakePaymentMethodRepo) ListByUserID(_ context.Context, userID uuid.UUID) ([]domain.PaymentMethod, error) {
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

func (r *fakePaymentMethodRepo) SetDefault(_ context.Context, userID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.methods {
		if m.UserID == userID {
			m.IsDefault = m.ID == id
		}
	}
	return nil
}

func (r *fakePaymentMethodRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.methods, id)
	return nil
}

// fakeProcessor records calls and serves canned responses.
type fakeProcessor struct {
	mu    sync.Mutex
	calls []string

	customerID   string
	session      domain.CheckoutSession
	subscription domain.ProcessorSubscription
	attached     domain.ProcessorPaymentMethod
	invoices     []domain.Invoice
	err          error
}

func (p *fakeProcessor) record(call string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	return p.err
}

func (p *fakeProcessor) calledWith(prefix string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.calls {
		if c == prefix {
			return true
		}
	}
	return false
}

func (p *fakeProcessor) CreateCustomer(_ context.Context, email string) (string, error) {
	if err := p.record("CreateCustomer:" + email); err != nil {
		return "", err
	}
	return p.customerID, nil
}

func (p *fakeProcessor) CreateCheckoutSession(_ context.Context, customerID, _ string, plan domain.SubscriptionPlan) (domain.CheckoutSession, error) {
	if err := p.record(fmt.Sprintf("CreateCheckoutSession:%s:%s", customerID, plan)); err != nil {
		return domain.CheckoutSession{}, err
	}
	return p.session, nil
}

func (p *fakeProcessor) GetSubscription(_ context.Context, subscriptionID string) (domain.ProcessorSubscription, error) {
	if err := p.record("GetSubscription:" + subscriptionID); err != nil {
		return domain.ProcessorSubscription{}, err
	}
	return p.subscription, nil
}

func (p *fakeProcessor) CancelAtPeriodEnd(_ context.Context, subscriptionID string) error {
	return p.record("CancelAtPeriodEnd:" + subscriptionID)
}

func (p *fakeProcessor) Reactivate(_ context.Context, subscriptionID string) error {
	return p.record("Reactivate:" + subscriptionID)
}

func (p *fakeProcessor) ListPaymentMethods(_ context.Context, customerID string) ([]domain.ProcessorPaymentMethod, error) {
	if err := p.record("ListPaymentMethods:" + customerID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (p *fakeProcessor) AttachPaymentMethod(_ context.Context, customerID, paymentMethodID string) (domain.ProcessorPaymentMethod, error) {
	if err := p.record(fmt.Sprintf("AttachPaymentMethod:%s:%s", customerID, paymentMethodID)); err != nil {
		return domain.ProcessorPaymentMethod{}, err
	}
	return p.attached, nil
}

func (p *fakeProcessor) DetachPaymentMethod(_ context.Context, paymentMethodID string) error {
	return p.record("DetachPaymentMethod:" + paymentMethodID)
}

func (p *fakeProcessor) SetDefaultPaymentMethod(_ context.Context, customerID, paymentMethodID string) error {
	return p.record(fmt.Sprintf("SetDefaultPaymentMethod:%s:%s", customerID, paymentMethodID))
}

func (p *fakeProcessor) ListInvoices(_ context.Context, customerID string) ([]domain.Invoice, error) {
	if err := p.record("ListInvoices:" + customerID); err != nil {
		return nil, err
	}
	return p.invoices, nil
}

// fakeLedger is an in-memory processed-event ledger.
type fakeLedger struct {
	mu        sync.Mutex
	processed map[string]bool
	failMark  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{processed: make(map[string]bool)}
}

func (l *fakeLedger) Processed(_ context.Context, provider, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processed[provider+":"+eventID], nil
}

func (l *fakeLedger) MarkProcessed(_ context.Context, provider, eventID, _ string) (bool, error) {
	if l.failMark != nil {
		return false, l.failMark
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := provider + ":" + eventID
	if l.processed[key] {
		return false, nil
	}
	l.processed[key] = true
	return true, nil
}

// fakeVerifier accepts any payload carrying the expected header value.
type fakeVerifier struct {
	event WebhookEvent
}

var errBadWebhookSignature = errors.New("signature mismatch")

func (v *fakeVerifier) VerifyAndParse(payload []byte, signatureHeader string) (WebhookEvent, error) {
	if signatureHeader != "valid" {
		return WebhookEvent{}, errBadWebhookSignature
	}
	event := v.event
	if len(event.Data) == 0 {
		event.Data = payload
	}
	return event, nil
}

// capturePublisher records every published event.
type capturePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	routingKey string
	payload    []byte
}

func (p *capturePublisher) Publish(_ context.Context, routingKey string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{routingKey: routingKey, payload: payload})
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.routingKey
	}
	return out
}
