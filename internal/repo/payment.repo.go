package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"transaction-reconciler/internal/domain"
)

// PaymentRepo stores the legacy payments that predate transaction items.
type PaymentRepo interface {
	CreatePayment(ctx context.Context, tx *sql.Tx, payment *domain.Payment) error
	FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Payment, error)
	// DeactivateForCheckout turns off every active payment of the checkout and reports how many changed.
	DeactivateForCheckout(ctx context.Context, tx *sql.Tx, checkoutToken uuid.UUID) (int64, error)
	MoveToOrder(ctx context.Context, tx *sql.Tx, checkoutToken, orderID uuid.UUID) error
}

type paymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) PaymentRepo {
	return &paymentRepo{db: db}
}

func (r *paymentRepo) CreatePayment(ctx context.Context, tx *sql.Tx, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (id, checkout_id, order_id, amount, currency, status, is_active, psp_reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	return execNode(r.db, tx).QueryRowContext(
		ctx, query,
		payment.ID,
		payment.CheckoutID,
		payment.OrderID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.IsActive,
		payment.PSPReference,
	).Scan(&payment.CreatedAt, &payment.UpdatedAt)
}

func (r *paymentRepo) FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Payment, error) {
	query := `
		SELECT id, checkout_id, order_id, amount, currency, status, is_active, psp_reference, created_at, updated_at
		FROM payments WHERE id = $1`

	var p domain.Payment
	err := execNode(r.db, tx).QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.CheckoutID,
		&p.OrderID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.IsActive,
		&p.PSPReference,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepo) DeactivateForCheckout(ctx context.Context, tx *sql.Tx, checkoutToken uuid.UUID) (int64, error) {
	query := `
		UPDATE payments
		SET is_active = FALSE,
		    updated_at = now()
		WHERE checkout_id = $1 AND is_active`

	res, err := execNode(r.db, tx).ExecContext(ctx, query, checkoutToken)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *paymentRepo) MoveToOrder(ctx context.Context, tx *sql.Tx, checkoutToken, orderID uuid.UUID) error {
	_, err := execNode(r.db, tx).ExecContext(ctx,
		`UPDATE payments SET order_id = $2, updated_at = now() WHERE checkout_id = $1`,
		checkoutToken, orderID,
	)
	return err
}
