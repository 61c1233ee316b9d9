package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentMethod is a stored payment instrument. Only the processor token
// and display-safe metadata are kept; raw card numbers never enter the
// system.
type PaymentMethod struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	StripePaymentMethodID string
	Brand                 string
	Last4                 string
	ExpMonth              int64
	ExpYear               int64
	// IsDefault is true for exactly one method per user among live methods.
	IsDefault bool
	CreatedAt time.Time
}
