package persistence

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresEventLedger implements EventLedger with PostgreSQL. The primary
// key on (provider, event_id) makes MarkProcessed a race-safe claim: when
// two deliveries of the same event run concurrently, the insert lands for
// exactly one of them.
type PostgresEventLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresEventLedger creates a new ledger.
func NewPostgresEventLedger(pool *pgxpool.Pool) *PostgresEventLedger {
	return &PostgresEventLedger{pool: pool}
}

// Processed reports whether the event id was already recorded.
func (l *PostgresEventLedger) Processed(ctx context.Context, provider, eventID string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM billing_webhook_events WHERE provider = $1 AND event_id = $2)`,
		provider, eventID).Scan(&exists)
	return exists, err
}

// MarkProcessed records the event id. Reports false when the event was
// already recorded.
func (l *PostgresEventLedger) MarkProcessed(ctx context.Context, provider, eventID, eventType string) (bool, error) {
	query := `
		INSERT INTO billing_webhook_events (provider, event_id, event_type, processed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (provider, event_id) DO NOTHING
	`
	tag, err := l.pool.Exec(ctx, query, provider, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
