package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionAction string

const (
	ActionCharge TransactionAction = "CHARGE"
	ActionRefund TransactionAction = "REFUND"
	ActionCancel TransactionAction = "CANCEL"
)

func (a TransactionAction) Valid() bool {
	switch a {
	case ActionCharge, ActionRefund, ActionCancel:
		return true
	}
	return false
}

// RequestType is the event type recorded when the action is requested.
func (a TransactionAction) RequestType() TransactionEventType {
	switch a {
	case ActionCharge:
		return ChargeRequest
	case ActionRefund:
		return RefundRequest
	case ActionCancel:
		return CancelRequest
	}
	return ""
}

type OwnerKind string

const (
	OwnerOrder    OwnerKind = "order"
	OwnerCheckout OwnerKind = "checkout"
)

// OwnerRef points at the Order or the Checkout a transaction belongs to, never both.
type OwnerRef struct {
	Kind OwnerKind
	ID   uuid.UUID
}

func OrderOwner(id uuid.UUID) OwnerRef    { return OwnerRef{Kind: OwnerOrder, ID: id} }
func CheckoutOwner(id uuid.UUID) OwnerRef { return OwnerRef{Kind: OwnerCheckout, ID: id} }

func (o OwnerRef) IsOrder() bool    { return o.Kind == OwnerOrder }
func (o OwnerRef) IsCheckout() bool { return o.Kind == OwnerCheckout }

func (o OwnerRef) String() string {
	return fmt.Sprintf("%s:%s", o.Kind, o.ID)
}

// Totals holds the running amounts of one transaction item.
type Totals struct {
	Authorized       decimal.Decimal
	Charged          decimal.Decimal
	Refunded         decimal.Decimal
	Canceled         decimal.Decimal
	AuthorizePending decimal.Decimal
	ChargePending    decimal.Decimal
	RefundPending    decimal.Decimal
	CancelPending    decimal.Decimal
}

func (t Totals) Equal(o Totals) bool {
	return t.Authorized.Equal(o.Authorized) &&
		t.Charged.Equal(o.Charged) &&
		t.Refunded.Equal(o.Refunded) &&
		t.Canceled.Equal(o.Canceled) &&
		t.AuthorizePending.Equal(o.AuthorizePending) &&
		t.ChargePending.Equal(o.ChargePending) &&
		t.RefundPending.Equal(o.RefundPending) &&
		t.CancelPending.Equal(o.CancelPending)
}

// TransactionItem is one payment intent at a payment provider.
type TransactionItem struct {
	ID               int64
	Token            uuid.UUID
	Owner            OwnerRef
	Name             string
	Currency         string
	PSPReference     string
	Totals           Totals
	AvailableActions []TransactionAction
	UserID           uuid.NullUUID
	AppID            uuid.NullUUID
	Metadata         json.RawMessage
	CreatedAt        time.Time
	ModifiedAt       time.Time
}

func (t *TransactionItem) HasAction(a TransactionAction) bool {
	for _, x := range t.AvailableActions {
		if x == a {
			return true
		}
	}
	return false
}

// Ref returns the token-based reference of the item.
func (t *TransactionItem) Ref() TransactionRef {
	return TokenRef(t.Token)
}
