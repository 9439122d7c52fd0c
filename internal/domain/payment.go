package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the status of a legacy payment.
type PaymentStatus string

const (
	PaymentInitiated  PaymentStatus = "INIT"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentSucceeded  PaymentStatus = "SUCCEEDED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentCanceled   PaymentStatus = "CANCELED"
)

// Payment is the legacy single-shot payment model that predates transaction items.
// At most one payment per checkout is active.
type Payment struct {
	ID           uuid.UUID
	CheckoutID   uuid.NullUUID
	OrderID      uuid.NullUUID
	Amount       decimal.Decimal
	Currency     string
	Status       PaymentStatus
	IsActive     bool
	PSPReference string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
