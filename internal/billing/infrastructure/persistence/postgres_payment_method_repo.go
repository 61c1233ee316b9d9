package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/scholaris/internal/billing/domain"
)

// PostgresPaymentMethodRepository implements PaymentMethodRepository with PostgreSQL.
type PostgresPaymentMethodRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresPaymentMethodRepository creates a new repository.
func NewPostgresPaymentMethodRepository(pool *pgxpool.Pool) *PostgresPaymentMethodRepository {
	return &PostgresPaymentMethodRepository{pool: pool}
}

// Create stores a payment method.
func (r *PostgresPaymentMethodRepository) Create(ctx context.Context, method *domain.PaymentMethod) error {
	query := `
		INSERT INTO payment_methods (
			id, user_id, stripe_payment_method_id, brand, last4,
			exp_month, exp_year, is_default, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		method.ID,
		method.UserID,
		method.StripePaymentMethodID,
		method.Brand,
		method.Last4,
		method.ExpMonth,
		method.ExpYear,
		method.IsDefault,
		method.CreatedAt,
	)
	return err
}

// FindByID returns a payment method by id.
func (r *PostgresPaymentMethodRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.PaymentMethod, error) {
	query := `
		SELECT id, user_id, stripe_payment_method_id, brand, last4,
		       exp_month, exp_year, is_default, created_at
		FROM payment_methods
		WHERE id = $1
	`
	var method domain.PaymentMethod
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&method.ID,
		&method.UserID,
		&method.StripePaymentMethodID,
		&method.Brand,
		&method.Last4,
		&method.ExpMonth,
		&method.ExpYear,
		&method.IsDefault,
		&method.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentMethodNotFound
		}
		return nil, err
	}
	return &method, nil
}

// ListByUserID returns a user's payment methods, oldest first.
func (r *PostgresPaymentMethodRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]domain.PaymentMethod, error) {
	query := `
		SELECT id, user_id, stripe_payment_method_id, brand, last4,
		       exp_month, exp_year, is_default, created_at
		FROM payment_methods
		WHERE user_id = $1
		ORDER BY created_at
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var methods []domain.PaymentMethod
	for rows.Next() {
		var method domain.PaymentMethod
		if err := rows.Scan(
			&method.ID,
			&method.UserID,
			&method.StripePaymentMethodID,
			&method.Brand,
			&method.Last4,
			&method.ExpMonth,
			&method.ExpYear,
			&method.IsDefault,
			&method.CreatedAt,
		); err != nil {
			return nil, err
		}
		methods = append(methods, method)
	}
	return methods, rows.Err()
}

// SetDefault marks the method as the user's default and clears the flag on
// every other method in a single statement, keeping exactly one default.
func (r *PostgresPaymentMethodRepository) SetDefault(ctx context.Context, userID, id uuid.UUID) error {
	query := `
		UPDATE payment_methods
		SET is_default = (id = $1)
		WHERE user_id = $2
	`
	_, err := r.pool.Exec(ctx, query, id, userID)
	return err
}

// Delete removes a payment method.
func (r *PostgresPaymentMethodRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM payment_methods WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentMethodNotFound
	}
	return nil
}
