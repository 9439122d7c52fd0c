package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderUnconfirmed OrderStatus = "UNCONFIRMED"
	OrderUnfulfilled OrderStatus = "UNFULFILLED"
	OrderCanceled    OrderStatus = "CANCELED"
)

type ChargeStatus string

const (
	ChargeNone        ChargeStatus = "NONE"
	ChargePartial     ChargeStatus = "PARTIAL"
	ChargeFull        ChargeStatus = "FULL"
	ChargeOvercharged ChargeStatus = "OVERCHARGED"
)

// Covered reports whether the status means the total has been charged.
func (s ChargeStatus) Covered() bool {
	return s == ChargeFull || s == ChargeOvercharged
}

type AuthorizeStatus string

const (
	AuthorizeNone    AuthorizeStatus = "NONE"
	AuthorizePartial AuthorizeStatus = "PARTIAL"
	AuthorizeFull    AuthorizeStatus = "FULL"
)

// PaymentState is the cached payment view shared by orders and checkouts.
type PaymentState struct {
	TotalAuthorized decimal.Decimal
	TotalCharged    decimal.Decimal
	TotalRefunded   decimal.Decimal
	AuthorizeStatus AuthorizeStatus
	ChargeStatus    ChargeStatus
}

func (p PaymentState) Equal(o PaymentState) bool {
	return p.TotalAuthorized.Equal(o.TotalAuthorized) &&
		p.TotalCharged.Equal(o.TotalCharged) &&
		p.TotalRefunded.Equal(o.TotalRefunded) &&
		p.AuthorizeStatus == o.AuthorizeStatus &&
		p.ChargeStatus == o.ChargeStatus
}

// Aggregate is the money-bearing owner of transaction items.
type Aggregate interface {
	OwnerRef() OwnerRef
	Total() Money
	Payment() PaymentState
	SetPayment(PaymentState)
}

type Order struct {
	ID            uuid.UUID
	UserID        uuid.NullUUID
	ChannelID     uuid.UUID
	CheckoutToken uuid.NullUUID
	Email         string
	Status        OrderStatus
	Currency      string
	TotalGross    decimal.Decimal
	PaymentState
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o *Order) OwnerRef() OwnerRef { return OrderOwner(o.ID) }
func (o *Order) Total() Money { return Money{Amount: o.TotalGross, Currency: o.Currency} }
func (o *Order) Payment() PaymentState { return o.PaymentState }
func (o *Order) SetPayment(ps PaymentState) { o.PaymentState = ps }

type Checkout struct {
	Token            uuid.UUID
	ChannelID        uuid.UUID
	Email            string
	Currency         string
	TotalGross       decimal.Decimal
	CompletedOrderID uuid.NullUUID
	PaymentState
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c *Checkout) OwnerRef() OwnerRef { return CheckoutOwner(c.Token) }
func (c *Checkout) Total() Money { return Money{Amount: c.TotalGross, Currency: c.Currency} }
func (c *Checkout) Payment() PaymentState { return c.PaymentState }
func (c *Checkout) SetPayment(ps PaymentState) { c.PaymentState = ps }

// FullyPaid reports whether the checkout's authorized and charged funds cover its total.
func (c *Checkout) FullyPaid() bool {
	return c.AuthorizeStatus == AuthorizeFull
}

type Channel struct {
	ID                                      uuid.UUID
	Slug                                    string
	Currency                                string
	AutomaticallyCompleteFullyPaidCheckouts bool
}
