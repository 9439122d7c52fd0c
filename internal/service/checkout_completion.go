package service

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"transaction-reconciler/internal/domain"
	"transaction-reconciler/internal/repo"
)

// CheckoutCompleter turns a paid checkout into an order.
type CheckoutCompleter interface {
	// Complete returns the created order and true, or the existing order and
	// false when the checkout was completed before.
	Complete(ctx context.Context, checkoutToken uuid.UUID) (*domain.Order, bool, error)
}

type checkoutCompleter struct {
	db    *sql.DB
	repos repo.Repos
	log   *zap.Logger
}

func NewCheckoutCompleter(db *sql.DB, repos repo.Repos, log *zap.Logger) CheckoutCompleter {
	return &checkoutCompleter{db: db, repos: repos, log: log}
}

func (c *checkoutCompleter) Complete(ctx context.Context, checkoutToken uuid.UUID) (*domain.Order, bool, error) {
	var (
		order   *domain.Order
		created bool
	)
	err := repo.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		// Items before the checkout, the same order ReportEvent takes its locks in.
		if _, err := c.repos.Transactions.LockByOwner(ctx, tx, domain.CheckoutOwner(checkoutToken)); err != nil {
			return err
		}
		checkout, err := c.repos.Checkouts.LockByToken(ctx, tx, checkoutToken)
		if err != nil {
			return err
		}
		if checkout.CompletedOrderID.Valid {
			order, err = c.repos.Orders.FindById(ctx, tx, checkout.CompletedOrderID.UUID)
			return err
		}

		order = &domain.Order{
			ID:            uuid.New(),
			ChannelID:     checkout.ChannelID,
			CheckoutToken: uuid.NullUUID{UUID: checkout.Token, Valid: true},
			Email:         checkout.Email,
			Status:        domain.OrderUnfulfilled,
			Currency:      checkout.Currency,
			TotalGross:    checkout.TotalGross,
			PaymentState: domain.PaymentState{
				AuthorizeStatus: domain.AuthorizeNone,
				ChargeStatus:    domain.ChargeNone,
			},
		}
		if err := c.repos.Orders.CreateOrder(ctx, tx, order); err != nil {
			return err
		}
		if err := c.repos.Transactions.MoveToOrder(ctx, tx, checkout.Token, order.ID); err != nil {
			return err
		}
		if err := c.repos.Payments.MoveToOrder(ctx, tx, checkout.Token, order.ID); err != nil {
			return err
		}
		if err := c.repos.Checkouts.MarkCompleted(ctx, tx, checkout.Token, order.ID); err != nil {
			return err
		}

		change, err := refreshAggregate(ctx, tx, c.repos, domain.OrderOwner(order.ID))
		if err != nil {
			return err
		}
		order = change.next.(*domain.Order)
		created = true
		return nil
	})
	if err != nil {
		c.log.Error("checkout completion failed", zap.Stringer("checkout", checkoutToken), zap.Error(err))
		return nil, false, err
	}

	if created {
		c.log.Info("checkout completed",
			zap.Stringer("checkout", checkoutToken),
			zap.Stringer("order", order.ID),
			zap.String("charge_status", string(order.ChargeStatus)),
		)
	}
	return order, created, nil
}
