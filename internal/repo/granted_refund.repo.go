package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"transaction-reconciler/internal/domain"
)

type GrantedRefundRepo interface {
	Create(ctx context.Context, tx *sql.Tx, refund *domain.OrderGrantedRefund) error
	ListByOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) ([]domain.OrderGrantedRefund, error)
	SumForOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (decimal.Decimal, error)
	// FindSettleable returns the oldest unsettled or failed grant of the item for exactly amount.
	FindSettleable(ctx context.Context, tx *sql.Tx, transactionItemID int64, amount decimal.Decimal) (*domain.OrderGrantedRefund, error)
	Settle(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.GrantedRefundStatus, eventID int64) error
}

type grantedRefundRepo struct {
	db *sql.DB
}

func NewGrantedRefundRepo(db *sql.DB) GrantedRefundRepo {
	return &grantedRefundRepo{db: db}
}

const grantedRefundColumns = `
	id, order_id, amount, currency, reason, status, transaction_item_id, transaction_event_id,
	user_id, app_id, created_at, updated_at`

func scanGrantedRefund(row rowScanner) (*domain.OrderGrantedRefund, error) {
	var (
		g       domain.OrderGrantedRefund
		itemID  sql.NullInt64
		eventID sql.NullInt64
	)
	err := row.Scan(
		&g.ID,
		&g.OrderID,
		&g.Amount,
		&g.Currency,
		&g.Reason,
		&g.Status,
		&itemID,
		&eventID,
		&g.UserID,
		&g.AppID,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if itemID.Valid {
		g.TransactionItemID = &itemID.Int64
	}
	if eventID.Valid {
		g.TransactionEventID = &eventID.Int64
	}
	return &g, nil
}

func (r *grantedRefundRepo) Create(ctx context.Context, tx *sql.Tx, g *domain.OrderGrantedRefund) error {
	query := `
		INSERT INTO order_granted_refunds (
			id, order_id, amount, currency, reason, status, transaction_item_id, user_id, app_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	return execNode(r.db, tx).QueryRowContext(ctx, query,
		g.ID,
		g.OrderID,
		g.Amount,
		g.Currency,
		g.Reason,
		g.Status,
		nullInt64(g.TransactionItemID),
		g.UserID,
		g.AppID,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
}

func (r *grantedRefundRepo) ListByOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) ([]domain.OrderGrantedRefund, error) {
	rows, err := execNode(r.db, tx).QueryContext(ctx,
		"SELECT "+grantedRefundColumns+" FROM order_granted_refunds WHERE order_id = $1 ORDER BY created_at, id",
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refunds []domain.OrderGrantedRefund
	for rows.Next() {
		g, err := scanGrantedRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, *g)
	}
	return refunds, rows.Err()
}

func (r *grantedRefundRepo) SumForOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := execNode(r.db, tx).QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM order_granted_refunds WHERE order_id = $1`,
		orderID,
	).Scan(&sum)
	return sum, err
}

func (r *grantedRefundRepo) FindSettleable(ctx context.Context, tx *sql.Tx, transactionItemID int64, amount decimal.Decimal) (*domain.OrderGrantedRefund, error) {
	query := "SELECT " + grantedRefundColumns + `
		FROM order_granted_refunds
		WHERE transaction_item_id = $1
		AND amount = $2
		AND status IN ('NONE', 'FAILURE')
		ORDER BY created_at, id
		LIMIT 1
		FOR UPDATE`

	g, err := scanGrantedRefund(execNode(r.db, tx).QueryRowContext(ctx, query, transactionItemID, amount))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (r *grantedRefundRepo) Settle(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.GrantedRefundStatus, eventID int64) error {
	_, err := execNode(r.db, tx).ExecContext(ctx,
		`UPDATE order_granted_refunds SET status = $2, transaction_event_id = $3, updated_at = now() WHERE id = $1`,
		id, status, eventID,
	)
	return err
}
