package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"transaction-reconciler/internal/domain"
)

type OrderRepo interface {
	FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error)
	LockById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error)
	CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	UpdatePaymentState(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	// RefreshSearchVector re-indexes the order's email and the psp references of its transactions.
	RefreshSearchVector(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
	Search(ctx context.Context, query string, limit int) ([]domain.Order, error)
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `
	id, user_id, channel_id, checkout_token, email, status, currency, total_gross,
	total_authorized, total_charged, total_refunded, authorize_status, charge_status,
	created_at, updated_at`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.ChannelID,
		&order.CheckoutToken,
		&order.Email,
		&order.Status,
		&order.Currency,
		&order.TotalGross,
		&order.TotalAuthorized,
		&order.TotalCharged,
		&order.TotalRefunded,
		&order.AuthorizeStatus,
		&order.ChargeStatus,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepo) find(ctx context.Context, tx *sql.Tx, id uuid.UUID, lock bool) (*domain.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}
	order, err := scanOrder(execNode(r.db, tx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepo) FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.find(ctx, tx, id, false)
}

func (r *orderRepo) LockById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.find(ctx, tx, id, true)
}

func (r *orderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	query := `
		INSERT INTO orders (
			id, user_id, channel_id, checkout_token, email, status, currency, total_gross,
			total_authorized, total_charged, total_refunded, authorize_status, charge_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	return execNode(r.db, tx).QueryRowContext(ctx, query,
		order.ID,
		order.UserID,
		order.ChannelID,
		order.CheckoutToken,
		order.Email,
		order.Status,
		order.Currency,
		order.TotalGross,
		order.TotalAuthorized,
		order.TotalCharged,
		order.TotalRefunded,
		order.AuthorizeStatus,
		order.ChargeStatus,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
}

func (r *orderRepo) UpdatePaymentState(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	query := `
		UPDATE orders
		SET total_authorized = $2,
		    total_charged = $3,
		    total_refunded = $4,
		    authorize_status = $5,
		    charge_status = $6,
		    updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := execNode(r.db, tx).QueryRowContext(ctx, query,
		order.ID,
		order.TotalAuthorized,
		order.TotalCharged,
		order.TotalRefunded,
		order.AuthorizeStatus,
		order.ChargeStatus,
	).Scan(&order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *orderRepo) RefreshSearchVector(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	query := `
		UPDATE orders o
		SET search_vector = to_tsvector('simple',
			o.email || ' ' || COALESCE((
				SELECT string_agg(t.psp_reference, ' ')
				FROM transaction_items t
				WHERE t.order_id = o.id AND t.psp_reference IS NOT NULL
			), ''))
		WHERE o.id = $1`

	_, err := execNode(r.db, tx).ExecContext(ctx, query, id)
	return err
}

// Search matches orders by email or payment psp reference.
func (r *orderRepo) Search(ctx context.Context, query string, limit int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+` FROM orders
		WHERE search_vector @@ plainto_tsquery('simple', $1)
		ORDER BY created_at DESC
		LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}
