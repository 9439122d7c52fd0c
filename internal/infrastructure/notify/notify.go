// Package notify delivers payment milestone notifications to downstream consumers.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"transaction-reconciler/internal/domain"
)

type Name string

const (
	OrderCreated                   Name = "ORDER_CREATED"
	OrderUpdated                   Name = "ORDER_UPDATED"
	OrderPaid                      Name = "ORDER_PAID"
	OrderFullyPaid                 Name = "ORDER_FULLY_PAID"
	OrderRefunded                  Name = "ORDER_REFUNDED"
	OrderFullyRefunded             Name = "ORDER_FULLY_REFUNDED"
	CheckoutFullyPaid              Name = "CHECKOUT_FULLY_PAID"
	TransactionItemMetadataUpdated Name = "TRANSACTION_ITEM_METADATA_UPDATED"
)

// Triggered is the set of notifications already delivered within one reconciliation.
type Triggered map[Name]struct{}

func (t Triggered) Has(name Name) bool {
	_, ok := t[name]
	return ok
}

func (t Triggered) Add(name Name) { t[name] = struct{}{} }

// Dispatcher sends one notification about an aggregate. Names already in
// triggered are skipped; a delivered name is added to it.
type Dispatcher interface {
	Dispatch(ctx context.Context, name Name, aggregate domain.Aggregate, triggered Triggered) error
}

// Envelope is the wire form of a notification.
type Envelope struct {
	Name            Name                   `json:"name"`
	OwnerKind       domain.OwnerKind       `json:"owner_kind"`
	OwnerID         string                 `json:"owner_id"`
	Currency        string                 `json:"currency"`
	Total           decimal.Decimal        `json:"total"`
	TotalAuthorized decimal.Decimal        `json:"total_authorized"`
	TotalCharged    decimal.Decimal        `json:"total_charged"`
	TotalRefunded   decimal.Decimal        `json:"total_refunded"`
	AuthorizeStatus domain.AuthorizeStatus `json:"authorize_status"`
	ChargeStatus    domain.ChargeStatus    `json:"charge_status"`
	OccurredAt      time.Time              `json:"occurred_at"`
}

func NewEnvelope(name Name, aggregate domain.Aggregate, now time.Time) Envelope {
	owner := aggregate.OwnerRef()
	total := aggregate.Total()
	ps := aggregate.Payment()
	return Envelope{
		Name:            name,
		OwnerKind:       owner.Kind,
		OwnerID:         owner.ID.String(),
		Currency:        total.Currency,
		Total:           total.Amount,
		TotalAuthorized: ps.TotalAuthorized,
		TotalCharged:    ps.TotalCharged,
		TotalRefunded:   ps.TotalRefunded,
		AuthorizeStatus: ps.AuthorizeStatus,
		ChargeStatus:    ps.ChargeStatus,
		OccurredAt:      now.UTC(),
	}
}

// Multi fans a notification out to every dispatcher. Failures are joined;
// the name counts as triggered once every dispatcher has been tried.
type Multi []Dispatcher

func (m Multi) Dispatch(ctx context.Context, name Name, aggregate domain.Aggregate, triggered Triggered) error {
	if triggered.Has(name) {
		return nil
	}
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, name, aggregate, Triggered{}); err != nil {
			errs = append(errs, err)
		}
	}
	triggered.Add(name)
	return errors.Join(errs...)
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Dispatch(_ context.Context, name Name, _ domain.Aggregate, triggered Triggered) error {
	triggered.Add(name)
	return nil
}
