package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/scholaris/internal/billing/domain"
)

// ErrInvalidPlan is returned when a checkout names an unknown plan.
var ErrInvalidPlan = errors.New("billing: invalid subscription plan")

// Service exposes the user-facing billing operations: starting a checkout,
// reading and steering the subscription, and managing stored payment
// methods. State transitions themselves go through Lifecycle; the service
// only records intent (auto-renewal flags, processor calls) and the status
// catches up through webhooks and the sweep.
type Service struct {
	subscriptions  domain.SubscriptionRepository
	paymentMethods domain.PaymentMethodRepository
	users          domain.UserRepository
	processor      domain.PaymentProcessor
	lifecycle      *Lifecycle
	logger         *slog.Logger
}

// NewService creates the billing service.
func NewService(
	subscriptions domain.SubscriptionRepository,
	paymentMethods domain.PaymentMethodRepository,
	users domain.UserRepository,
	processor domain.PaymentProcessor,
	lifecycle *Lifecycle,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		subscriptions:  subscriptions,
		paymentMethods: paymentMethods,
		users:          users,
		processor:      processor,
		lifecycle:      lifecycle,
		logger:         logger,
	}
}

// CreateCheckout starts a processor-hosted checkout for the given plan. A
// user with a live (non-expired) subscription cannot start another one; an
// expired subscription does not block a fresh signup. The user id rides
// along as the session's client reference so the completion webhook can
// attribute the new subscription.
func (s *Service) CreateCheckout(ctx context.Context, userID uuid.UUID, plan domain.SubscriptionPlan) (domain.CheckoutSession, error) {
	if !plan.Valid() {
		return domain.CheckoutSession{}, ErrInvalidPlan
	}

	existing, err := s.subscriptions.FindByUserID(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrSubscriptionNotFound) {
		return domain.CheckoutSession{}, fmt.Errorf("lookup subscription: %w", err)
	}
	if existing != nil && !existing.Status.Terminal() {
		return domain.CheckoutSession{}, domain.ErrActiveSubscriptionExists
	}

	customerID, err := s.ensureCustomer(ctx, userID, existing)
	if err != nil {
		return domain.CheckoutSession{}, err
	}

	session, err := s.processor.CreateCheckoutSession(ctx, customerID, userID.String(), plan)
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}

	s.logger.Info("checkout session created",
		"user_id", userID,
		"plan", plan,
		"session_id", session.ID,
	)
	return session, nil
}

// ensureCustomer reuses the processor customer from a prior subscription
// when one exists, otherwise registers the user with the processor.
func (s *Service) ensureCustomer(ctx context.Context, userID uuid.UUID, existing *domain.Subscription) (string, error) {
	if existing != nil && existing.StripeCustomerID != "" {
		return existing.StripeCustomerID, nil
	}

	email, err := s.users.Email(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("lookup user email: %w", err)
	}
	customerID, err := s.processor.CreateCustomer(ctx, email)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return customerID, nil
}

// GetSubscription returns the user's subscription record.
func (s *Service) GetSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	return s.subscriptions.FindByUserID(ctx, userID)
}

// CancelSubscription schedules cancellation at period end. The
// subscription stays usable until then; the sweep expires it once the
// period lapses.
func (s *Service) CancelSubscription(ctx context.Context, userID uuid.UUID) error {
	sub, err := s.liveSubscription(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.processor.CancelAtPeriodEnd(ctx, sub.StripeSubscriptionID); err != nil {
		return fmt.Errorf("cancel at period end: %w", err)
	}
	if _, err := s.lifecycle.SetAutoRenewal(ctx, sub, false, "user-cancel"); err != nil {
		return err
	}

	s.logger.Info("subscription cancellation scheduled",
		"subscription_id", sub.ID,
		"user_id", userID,
		"period_end", sub.CurrentPeriodEnd,
	)
	return nil
}

// ReactivateSubscription undoes a pending cancellation before the period
// ends. An expired subscription cannot be reactivated; the user starts a
// new checkout instead.
func (s *Service) ReactivateSubscription(ctx context.Context, userID uuid.UUID) error {
	sub, err := s.liveSubscription(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.processor.Reactivate(ctx, sub.StripeSubscriptionID); err != nil {
		return fmt.Errorf("reactivate subscription: %w", err)
	}
	if _, err := s.lifecycle.SetAutoRenewal(ctx, sub, true, "user-reactivate"); err != nil {
		return err
	}

	s.logger.Info("subscription reactivated",
		"subscription_id", sub.ID,
		"user_id", userID,
	)
	return nil
}

// liveSubscription loads the user's subscription and rejects terminal ones.
func (s *Service) liveSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.subscriptions.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.Status.Terminal() {
		return nil, domain.ErrSubscriptionTerminal
	}
	return sub, nil
}

// ListPaymentMethods returns the user's stored payment methods.
func (s *Service) ListPaymentMethods(ctx context.Context, userID uuid.UUID) ([]domain.PaymentMethod, error) {
	return s.paymentMethods.ListByUserID(ctx, userID)
}

// AddPaymentMethod attaches a processor payment method token to the user's
// customer and persists its display metadata. The first stored method
// becomes the default.
func (s *Service) AddPaymentMethod(ctx context.Context, userID uuid.UUID, processorMethodID string) (*domain.PaymentMethod, error) {
	sub, err := s.liveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	attached, err := s.processor.AttachPaymentMethod(ctx, sub.StripeCustomerID, processorMethodID)
	if err != nil {
		return nil, fmt.Errorf("attach payment method: %w", err)
	}

	existing, err := s.paymentMethods.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	method := &domain.PaymentMethod{
		ID:                    uuid.New(),
		UserID:                userID,
		StripePaymentMethodID: attached.ID,
		Brand:                 attached.Brand,
		Last4:                 attached.Last4,
		ExpMonth:              attached.ExpMonth,
		ExpYear:               attached.ExpYear,
		IsDefault:             len(existing) == 0,
		CreatedAt:             time.Now().UTC(),
	}
	if err := s.paymentMethods.Create(ctx, method); err != nil {
		return nil, err
	}
	if method.IsDefault {
		if err := s.processor.SetDefaultPaymentMethod(ctx, sub.StripeCustomerID, attached.ID); err != nil {
			s.logger.Warn("failed to set processor default payment method",
				"user_id", userID,
				"payment_method_id", method.ID,
				"error", err,
			)
		}
	}

	s.logger.Info("payment method added",
		"user_id", userID,
		"payment_method_id", method.ID,
		"brand", method.Brand,
		"default", method.IsDefault,
	)
	return method, nil
}

// SetDefaultPaymentMethod marks a stored method as the user's default,
// locally and at the processor.
func (s *Service) SetDefaultPaymentMethod(ctx context.Context, userID, methodID uuid.UUID) error {
	sub, err := s.liveSubscription(ctx, userID)
	if err != nil {
		return err
	}

	method, err := s.ownedMethod(ctx, userID, methodID)
	if err != nil {
		return err
	}

	if err := s.processor.SetDefaultPaymentMethod(ctx, sub.StripeCustomerID, method.StripePaymentMethodID); err != nil {
		return fmt.Errorf("set default payment method: %w", err)
	}
	return s.paymentMethods.SetDefault(ctx, userID, methodID)
}

// DeletePaymentMethod detaches a stored method from the processor and
// removes it. When the default is removed and other methods remain, the
// oldest remaining one is promoted.
func (s *Service) DeletePaymentMethod(ctx context.Context, userID, methodID uuid.UUID) error {
	method, err := s.ownedMethod(ctx, userID, methodID)
	if err != nil {
		return err
	}

	if err := s.processor.DetachPaymentMethod(ctx, method.StripePaymentMethodID); err != nil {
		return fmt.Errorf("detach payment method: %w", err)
	}
	if err := s.paymentMethods.Delete(ctx, methodID); err != nil {
		return err
	}

	if method.IsDefault {
		if err := s.promoteNextDefault(ctx, userID); err != nil {
			s.logger.Warn("failed to promote replacement default payment method",
				"user_id", userID,
				"error", err,
			)
		}
	}

	s.logger.Info("payment method deleted",
		"user_id", userID,
		"payment_method_id", methodID,
	)
	return nil
}

func (s *Service) promoteNextDefault(ctx context.Context, userID uuid.UUID) error {
	remaining, err := s.paymentMethods.ListByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		return nil
	}

	oldest := remaining[0]
	for _, m := range remaining[1:] {
		if m.CreatedAt.Before(oldest.CreatedAt) {
			oldest = m
		}
	}
	return s.paymentMethods.SetDefault(ctx, userID, oldest.ID)
}

// ownedMethod loads a payment method and checks it belongs to the user.
// Methods owned by someone else look identical to missing ones.
func (s *Service) ownedMethod(ctx context.Context, userID, methodID uuid.UUID) (*domain.PaymentMethod, error) {
	method, err := s.paymentMethods.FindByID(ctx, methodID)
	if err != nil {
		return nil, err
	}
	if method.UserID != userID {
		return nil, domain.ErrPaymentMethodNotFound
	}
	return method, nil
}

// ListInvoices returns the user's processor invoice history.
func (s *Service) ListInvoices(ctx context.Context, userID uuid.UUID) ([]domain.Invoice, error) {
	sub, err := s.subscriptions.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.processor.ListInvoices(ctx, sub.StripeCustomerID)
}
