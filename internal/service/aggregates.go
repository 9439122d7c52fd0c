package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"transaction-reconciler/internal/calc"
	"transaction-reconciler/internal/domain"
	"transaction-reconciler/internal/repo"
)

// paymentChange is the effect of one reconciliation on the owning aggregate.
type paymentChange struct {
	prev            domain.Aggregate
	next            domain.Aggregate
	metadataChanged bool
}

func (c paymentChange) changed() bool {
	return c.metadataChanged || !c.prev.Payment().Equal(c.next.Payment())
}

// refreshAggregate locks the owning order or checkout, sums the totals of all its
// items and writes the derived payment state back.
func refreshAggregate(ctx context.Context, tx *sql.Tx, repos repo.Repos, owner domain.OwnerRef) (paymentChange, error) {
	var (
		change  paymentChange
		granted = decimal.Zero
	)

	switch owner.Kind {
	case domain.OwnerOrder:
		order, err := repos.Orders.LockById(ctx, tx, owner.ID)
		if err != nil {
			return change, fmt.Errorf("lock order %s: %w", owner.ID, err)
		}
		prev := *order
		change.prev, change.next = &prev, order

		granted, err = repos.GrantedRefunds.SumForOrder(ctx, tx, owner.ID)
		if err != nil {
			return change, err
		}
	case domain.OwnerCheckout:
		checkout, err := repos.Checkouts.LockByToken(ctx, tx, owner.ID)
		if err != nil {
			return change, fmt.Errorf("lock checkout %s: %w", owner.ID, err)
		}
		prev := *checkout
		change.prev, change.next = &prev, checkout
	default:
		return change, fmt.Errorf("unknown owner kind %q", owner.Kind)
	}

	items, err := repos.Transactions.ListByOwner(ctx, tx, owner)
	if err != nil {
		return change, err
	}
	totals := make([]domain.Totals, 0, len(items))
	for _, it := range items {
		totals = append(totals, it.Totals)
	}

	next := change.next
	next.SetPayment(calc.DerivePaymentState(next.Total().Amount, totals, granted, owner.Kind))

	switch agg := next.(type) {
	case *domain.Order:
		if err := repos.Orders.UpdatePaymentState(ctx, tx, agg); err != nil {
			return change, err
		}
		if err := repos.Orders.RefreshSearchVector(ctx, tx, agg.ID); err != nil {
			return change, err
		}
	case *domain.Checkout:
		if err := repos.Checkouts.UpdatePaymentState(ctx, tx, agg); err != nil {
			return change, err
		}
	}
	return change, nil
}
