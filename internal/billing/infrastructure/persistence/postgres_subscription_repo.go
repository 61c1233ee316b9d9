package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/scholaris/internal/billing/domain"
)

// PostgresSubscriptionRepository implements SubscriptionRepository with PostgreSQL.
type PostgresSubscriptionRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSubscriptionRepository creates a new repository.
func NewPostgresSubscriptionRepository(pool *pgxpool.Pool) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{pool: pool}
}

// Upsert inserts or updates a subscription. At most one live row exists
// per user; a fresh checkout after expiry inserts a new row and the
// expired one stays behind as history. The conflict target is the partial
// unique index over live rows, so a redelivered checkout event updates
// the live row in place instead of violating it.
func (r *PostgresSubscriptionRepository) Upsert(ctx context.Context, subscription *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, user_id, plan, status, auto_renewal, current_period_end,
			stripe_customer_id, stripe_subscription_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) WHERE status <> 'expired' DO UPDATE SET
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			auto_renewal = EXCLUDED.auto_renewal,
			current_period_end = EXCLUDED.current_period_end,
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			updated_at = NOW()
	`
	_, err := r.pool.Exec(ctx, query,
		subscription.ID,
		subscription.UserID,
		string(subscription.Plan),
		string(subscription.Status),
		subscription.AutoRenewal,
		subscription.CurrentPeriodEnd,
		subscription.StripeCustomerID,
		subscription.StripeSubscriptionID,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	)
	return err
}

// FindByUserID returns the user's live subscription when one exists,
// otherwise the most recent expired one.
func (r *PostgresSubscriptionRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	query := selectSubscription + `
		WHERE user_id = $1
		ORDER BY (status = 'expired'), created_at DESC
		LIMIT 1`

	sub, err := r.scanOne(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// FindByStripeSubscriptionID resolves the processor's subscription id to
// our record. Unknown ids return (nil, nil).
func (r *PostgresSubscriptionRepository) FindByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	query := selectSubscription + ` WHERE stripe_subscription_id = $1`

	sub, err := r.scanOne(r.pool.QueryRow(ctx, query, stripeSubscriptionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// UpdateStatus transitions the subscription only when its current status is
// one of the expected values. The condition runs inside the UPDATE itself,
// so concurrent transitions against the same row serialize on the row lock
// and at most one of them lands.
func (r *PostgresSubscriptionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from []domain.SubscriptionStatus, to domain.SubscriptionStatus, periodEnd *time.Time) (bool, error) {
	query := `
		UPDATE subscriptions
		SET status = $1,
		    current_period_end = COALESCE($2, current_period_end),
		    updated_at = NOW()
		WHERE id = $3 AND status = ANY($4)
	`
	expected := make([]string, len(from))
	for i, s := range from {
		expected[i] = string(s)
	}

	tag, err := r.pool.Exec(ctx, query, string(to), periodEnd, id, expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetAutoRenewal flips the renewal flag on a non-expired subscription.
func (r *PostgresSubscriptionRepository) SetAutoRenewal(ctx context.Context, id uuid.UUID, autoRenewal bool) (bool, error) {
	query := `
		UPDATE subscriptions
		SET auto_renewal = $1, updated_at = NOW()
		WHERE id = $2 AND status <> 'expired'
	`
	tag, err := r.pool.Exec(ctx, query, autoRenewal, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListLapsedNonRenewing returns active subscriptions with auto-renewal off
// whose period ended before now.
func (r *PostgresSubscriptionRepository) ListLapsedNonRenewing(ctx context.Context, now time.Time) ([]*domain.Subscription, error) {
	query := selectSubscription + `
		WHERE status = 'active' AND auto_renewal = FALSE AND current_period_end < $1
		ORDER BY current_period_end
	`
	return r.list(ctx, query, now)
}

// ListPastDueUpdatedBefore returns past-due subscriptions not touched since
// cutoff.
func (r *PostgresSubscriptionRepository) ListPastDueUpdatedBefore(ctx context.Context, cutoff time.Time) ([]*domain.Subscription, error) {
	query := selectSubscription + `
		WHERE status = 'past_due' AND updated_at < $1
		ORDER BY updated_at
	`
	return r.list(ctx, query, cutoff)
}

const selectSubscription = `
	SELECT id, user_id, plan, status, auto_renewal, current_period_end,
	       stripe_customer_id, stripe_subscription_id, created_at, updated_at
	FROM subscriptions`

func (r *PostgresSubscriptionRepository) list(ctx context.Context, query string, arg any) ([]*domain.Subscription, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		sub, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (r *PostgresSubscriptionRepository) scanOne(row pgx.Row) (*domain.Subscription, error) {
	var (
		sub    domain.Subscription
		plan   string
		status string
	)
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&plan,
		&status,
		&sub.AutoRenewal,
		&sub.CurrentPeriodEnd,
		&sub.StripeCustomerID,
		&sub.StripeSubscriptionID,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Plan = domain.SubscriptionPlan(plan)
	sub.Status = domain.SubscriptionStatus(status)
	return &sub, nil
}
