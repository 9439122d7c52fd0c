package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type GrantedRefundStatus string

const (
	GrantedRefundNone    GrantedRefundStatus = "NONE"
	GrantedRefundSuccess GrantedRefundStatus = "SUCCESS"
	GrantedRefundFailure GrantedRefundStatus = "FAILURE"
)

// OrderGrantedRefund is a refund promised against an order.
type OrderGrantedRefund struct {
	ID                 uuid.UUID
	OrderID            uuid.UUID
	Amount             decimal.Decimal
	Currency           string
	Reason             string
	Status             GrantedRefundStatus
	TransactionItemID  *int64
	TransactionEventID *int64
	UserID             uuid.NullUUID
	AppID              uuid.NullUUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
