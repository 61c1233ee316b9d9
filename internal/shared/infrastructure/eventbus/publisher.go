// Package eventbus publishes billing events to the message broker so other
// platform services (notifications, analytics, audit) can react to
// subscription lifecycle changes and security rejections.
package eventbus

import (
	"context"
	"log/slog"
)

// Publisher publishes serialized events under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// NoopPublisher discards events. Used in development when RabbitMQ is not
// available, and in tests.
type NoopPublisher struct {
	logger *slog.Logger
}

// NewNoopPublisher creates a publisher that drops everything.
func NewNoopPublisher(logger *slog.Logger) *NoopPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopPublisher{logger: logger}
}

// Publish logs and discards the event.
func (p *NoopPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.logger.Debug("event discarded (noop publisher)",
		"routing_key", routingKey,
		"size", len(payload),
	)
	return nil
}

// Close is a no-op.
func (p *NoopPublisher) Close() error { return nil }
