package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"transaction-reconciler/internal/domain"
)

type CheckoutRepo interface {
	FindByToken(ctx context.Context, tx *sql.Tx, token uuid.UUID) (*domain.Checkout, error)
	LockByToken(ctx context.Context, tx *sql.Tx, token uuid.UUID) (*domain.Checkout, error)
	CreateCheckout(ctx context.Context, tx *sql.Tx, checkout *domain.Checkout) error
	UpdatePaymentState(ctx context.Context, tx *sql.Tx, checkout *domain.Checkout) error
	MarkCompleted(ctx context.Context, tx *sql.Tx, token, orderID uuid.UUID) error
	FindChannel(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Channel, error)
	CreateChannel(ctx context.Context, tx *sql.Tx, channel *domain.Channel) error
}

type checkoutRepo struct {
	db *sql.DB
}

func NewCheckoutRepo(db *sql.DB) CheckoutRepo {
	return &checkoutRepo{db: db}
}

const checkoutColumns = `
	token, channel_id, email, currency, total_gross, total_authorized, total_charged,
	authorize_status, charge_status, completed_order_id, created_at, updated_at`

func (r *checkoutRepo) find(ctx context.Context, tx *sql.Tx, token uuid.UUID, lock bool) (*domain.Checkout, error) {
	query := "SELECT " + checkoutColumns + " FROM checkouts WHERE token = $1"
	if lock {
		query += " FOR UPDATE"
	}

	var c domain.Checkout
	err := execNode(r.db, tx).QueryRowContext(ctx, query, token).Scan(
		&c.Token,
		&c.ChannelID,
		&c.Email,
		&c.Currency,
		&c.TotalGross,
		&c.TotalAuthorized,
		&c.TotalCharged,
		&c.AuthorizeStatus,
		&c.ChargeStatus,
		&c.CompletedOrderID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *checkoutRepo) FindByToken(ctx context.Context, tx *sql.Tx, token uuid.UUID) (*domain.Checkout, error) {
	return r.find(ctx, tx, token, false)
}

func (r *checkoutRepo) LockByToken(ctx context.Context, tx *sql.Tx, token uuid.UUID) (*domain.Checkout, error) {
	return r.find(ctx, tx, token, true)
}

func (r *checkoutRepo) CreateCheckout(ctx context.Context, tx *sql.Tx, c *domain.Checkout) error {
	query := `
		INSERT INTO checkouts (
			token, channel_id, email, currency, total_gross, total_authorized, total_charged,
			authorize_status, charge_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	return execNode(r.db, tx).QueryRowContext(ctx, query,
		c.Token,
		c.ChannelID,
		c.Email,
		c.Currency,
		c.TotalGross,
		c.TotalAuthorized,
		c.TotalCharged,
		c.AuthorizeStatus,
		c.ChargeStatus,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *checkoutRepo) UpdatePaymentState(ctx context.Context, tx *sql.Tx, c *domain.Checkout) error {
	query := `
		UPDATE checkouts
		SET total_authorized = $2,
		    total_charged = $3,
		    authorize_status = $4,
		    charge_status = $5,
		    updated_at = now()
		WHERE token = $1
		RETURNING updated_at`

	err := execNode(r.db, tx).QueryRowContext(ctx, query,
		c.Token,
		c.TotalAuthorized,
		c.TotalCharged,
		c.AuthorizeStatus,
		c.ChargeStatus,
	).Scan(&c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *checkoutRepo) MarkCompleted(ctx context.Context, tx *sql.Tx, token, orderID uuid.UUID) error {
	res, err := execNode(r.db, tx).ExecContext(ctx,
		`UPDATE checkouts SET completed_order_id = $2, updated_at = now() WHERE token = $1 AND completed_order_id IS NULL`,
		token, orderID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *checkoutRepo) FindChannel(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Channel, error) {
	var ch domain.Channel
	err := execNode(r.db, tx).QueryRowContext(ctx,
		`SELECT id, slug, currency, automatically_complete_fully_paid_checkouts FROM channels WHERE id = $1`,
		id,
	).Scan(&ch.ID, &ch.Slug, &ch.Currency, &ch.AutomaticallyCompleteFullyPaidCheckouts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *checkoutRepo) CreateChannel(ctx context.Context, tx *sql.Tx, ch *domain.Channel) error {
	_, err := execNode(r.db, tx).ExecContext(ctx,
		`INSERT INTO channels (id, slug, currency, automatically_complete_fully_paid_checkouts) VALUES ($1, $2, $3, $4)`,
		ch.ID, ch.Slug, ch.Currency, ch.AutomaticallyCompleteFullyPaidCheckouts,
	)
	return err
}
