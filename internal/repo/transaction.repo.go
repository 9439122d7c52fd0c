package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"transaction-reconciler/internal/domain"
)

type TransactionRepo interface {
	FindByRef(ctx context.Context, tx *sql.Tx, ref domain.TransactionRef) (*domain.TransactionItem, error)
	// LockByRef takes a row lock on the item for the rest of tx.
	LockByRef(ctx context.Context, tx *sql.Tx, ref domain.TransactionRef) (*domain.TransactionItem, error)
	Create(ctx context.Context, tx *sql.Tx, item *domain.TransactionItem) error
	Update(ctx context.Context, tx *sql.Tx, item *domain.TransactionItem) error
	ListByOwner(ctx context.Context, tx *sql.Tx, owner domain.OwnerRef) ([]domain.TransactionItem, error)
	LockByOwner(ctx context.Context, tx *sql.Tx, owner domain.OwnerRef) ([]domain.TransactionItem, error)
	MoveToOrder(ctx context.Context, tx *sql.Tx, checkoutToken, orderID uuid.UUID) error
	FindPendingCharges(ctx context.Context, before time.Time, limit int) ([]domain.TransactionItem, error)
	ListModifiedSince(ctx context.Context, since time.Time, afterID int64, limit int) ([]domain.TransactionItem, error)
}

type transactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) TransactionRepo {
	return &transactionRepo{db: db}
}

const transactionColumns = `
	id, token, order_id, checkout_id, name, currency, psp_reference,
	authorized_value, charged_value, refunded_value, canceled_value,
	authorize_pending_value, charge_pending_value, refund_pending_value, cancel_pending_value,
	available_actions, user_id, app_id, metadata, created_at, modified_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.TransactionItem, error) {
	var (
		t          domain.TransactionItem
		orderID    uuid.NullUUID
		checkoutID uuid.NullUUID
		psp        sql.NullString
		actions    []byte
		metadata   []byte
	)
	err := row.Scan(
		&t.ID,
		&t.Token,
		&orderID,
		&checkoutID,
		&t.Name,
		&t.Currency,
		&psp,
		&t.Totals.Authorized,
		&t.Totals.Charged,
		&t.Totals.Refunded,
		&t.Totals.Canceled,
		&t.Totals.AuthorizePending,
		&t.Totals.ChargePending,
		&t.Totals.RefundPending,
		&t.Totals.CancelPending,
		&actions,
		&t.UserID,
		&t.AppID,
		&metadata,
		&t.CreatedAt,
		&t.ModifiedAt,
	)
	if err != nil {
		return nil, err
	}

	switch {
	case orderID.Valid:
		t.Owner = domain.OrderOwner(orderID.UUID)
	case checkoutID.Valid:
		t.Owner = domain.CheckoutOwner(checkoutID.UUID)
	}
	t.PSPReference = psp.String
	if err := json.Unmarshal(actions, &t.AvailableActions); err != nil {
		return nil, fmt.Errorf("decode available_actions of transaction %d: %w", t.ID, err)
	}
	t.Metadata = json.RawMessage(metadata)
	return &t, nil
}

func refPredicate(ref domain.TransactionRef) (string, any, error) {
	switch ref.Kind {
	case domain.RefLegacy:
		return "id = $1", ref.LegacyID, nil
	case domain.RefToken:
		return "token = $1", ref.Token, nil
	}
	return "", nil, domain.ErrInvalidRef
}

func (r *transactionRepo) findByRef(ctx context.Context, tx *sql.Tx, ref domain.TransactionRef, lock bool) (*domain.TransactionItem, error) {
	where, arg, err := refPredicate(ref)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + transactionColumns + " FROM transaction_items WHERE " + where
	// NO KEY UPDATE still serializes reports on the item but lets event inserts
	// take their foreign key share lock.
	if lock {
		query += " FOR NO KEY UPDATE"
	}

	item, err := scanTransaction(execNode(r.db, tx).QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *transactionRepo) FindByRef(ctx context.Context, tx *sql.Tx, ref domain.TransactionRef) (*domain.TransactionItem, error) {
	return r.findByRef(ctx, tx, ref, false)
}

func (r *transactionRepo) LockByRef(ctx context.Context, tx *sql.Tx, ref domain.TransactionRef) (*domain.TransactionItem, error) {
	if tx == nil {
		return nil, errors.New("lock transaction item: no transaction")
	}
	return r.findByRef(ctx, tx, ref, true)
}

func ownerColumns(owner domain.OwnerRef) (uuid.NullUUID, uuid.NullUUID) {
	id := uuid.NullUUID{UUID: owner.ID, Valid: true}
	if owner.IsOrder() {
		return id, uuid.NullUUID{}
	}
	return uuid.NullUUID{}, id
}

func encodeActions(actions []domain.TransactionAction) (string, error) {
	if actions == nil {
		actions = []domain.TransactionAction{}
	}
	raw, err := json.Marshal(actions)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (r *transactionRepo) Create(ctx context.Context, tx *sql.Tx, item *domain.TransactionItem) error {
	orderID, checkoutID := ownerColumns(item.Owner)
	actions, err := encodeActions(item.AvailableActions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO transaction_items (
			token, order_id, checkout_id, name, currency, psp_reference,
			authorized_value, charged_value, refunded_value, canceled_value,
			authorize_pending_value, charge_pending_value, refund_pending_value, cancel_pending_value,
			available_actions, user_id, app_id, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::jsonb, $16, $17, $18::jsonb)
		RETURNING id, created_at, modified_at`

	t := item.Totals
	return execNode(r.db, tx).QueryRowContext(ctx, query,
		item.Token,
		orderID,
		checkoutID,
		item.Name,
		item.Currency,
		nullString(item.PSPReference),
		t.Authorized,
		t.Charged,
		t.Refunded,
		t.Canceled,
		t.AuthorizePending,
		t.ChargePending,
		t.RefundPending,
		t.CancelPending,
		actions,
		item.UserID,
		item.AppID,
		jsonOrDefault(item.Metadata, "{}"),
	).Scan(&item.ID, &item.CreatedAt, &item.ModifiedAt)
}

func (r *transactionRepo) Update(ctx context.Context, tx *sql.Tx, item *domain.TransactionItem) error {
	actions, err := encodeActions(item.AvailableActions)
	if err != nil {
		return err
	}

	query := `
		UPDATE transaction_items
		SET psp_reference = $2,
		    authorized_value = $3,
		    charged_value = $4,
		    refunded_value = $5,
		    canceled_value = $6,
		    authorize_pending_value = $7,
		    charge_pending_value = $8,
		    refund_pending_value = $9,
		    cancel_pending_value = $10,
		    available_actions = $11::jsonb,
		    metadata = $12::jsonb,
		    modified_at = now()
		WHERE id = $1
		RETURNING modified_at`

	t := item.Totals
	err = execNode(r.db, tx).QueryRowContext(ctx, query,
		item.ID,
		nullString(item.PSPReference),
		t.Authorized,
		t.Charged,
		t.Refunded,
		t.Canceled,
		t.AuthorizePending,
		t.ChargePending,
		t.RefundPending,
		t.CancelPending,
		actions,
		jsonOrDefault(item.Metadata, "{}"),
	).Scan(&item.ModifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *transactionRepo) queryItems(ctx context.Context, node DBTX, query string, args ...any) ([]domain.TransactionItem, error) {
	rows, err := node.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.TransactionItem
	for rows.Next() {
		item, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (r *transactionRepo) listByOwner(ctx context.Context, tx *sql.Tx, owner domain.OwnerRef, lock bool) ([]domain.TransactionItem, error) {
	column := "checkout_id"
	if owner.IsOrder() {
		column = "order_id"
	}
	query := "SELECT " + transactionColumns + " FROM transaction_items WHERE " + column + " = $1 ORDER BY id"
	if lock {
		query += " FOR NO KEY UPDATE"
	}
	return r.queryItems(ctx, execNode(r.db, tx), query, owner.ID)
}

func (r *transactionRepo) ListByOwner(ctx context.Context, tx *sql.Tx, owner domain.OwnerRef) ([]domain.TransactionItem, error) {
	return r.listByOwner(ctx, tx, owner, false)
}

// LockByOwner locks every item of the owner in id order.
func (r *transactionRepo) LockByOwner(ctx context.Context, tx *sql.Tx, owner domain.OwnerRef) ([]domain.TransactionItem, error) {
	if tx == nil {
		return nil, errors.New("lock transaction items: no transaction")
	}
	return r.listByOwner(ctx, tx, owner, true)
}

// MoveToOrder re-parents every item of a checkout onto the order created from it.
func (r *transactionRepo) MoveToOrder(ctx context.Context, tx *sql.Tx, checkoutToken, orderID uuid.UUID) error {
	_, err := execNode(r.db, tx).ExecContext(ctx,
		`UPDATE transaction_items SET order_id = $2, checkout_id = NULL, modified_at = now() WHERE checkout_id = $1`,
		checkoutToken, orderID,
	)
	return err
}

// FindPendingCharges returns items with an outstanding charge whose latest
// counted charge request was recorded before the cutoff. Later events of
// other kinds do not postpone it.
func (r *transactionRepo) FindPendingCharges(ctx context.Context, before time.Time, limit int) ([]domain.TransactionItem, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transaction_items t
		CROSS JOIN LATERAL (
			SELECT max(e.created_at) AS requested_at
			FROM transaction_events e
			WHERE e.transaction_id = t.id
			AND e.type = $1
			AND e.include_in_calculations
		) r
		WHERE t.charge_pending_value > 0
		AND r.requested_at < $2
		ORDER BY r.requested_at, t.id
		LIMIT $3`
	return r.queryItems(ctx, r.db, query, string(domain.ChargeRequest), before, limit)
}

// ListModifiedSince pages items by (modified_at, id) strictly after the cursor.
// A zero afterID includes items modified exactly at since.
func (r *transactionRepo) ListModifiedSince(ctx context.Context, since time.Time, afterID int64, limit int) ([]domain.TransactionItem, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transaction_items
		WHERE (modified_at, id) > ($1, $2)
		ORDER BY modified_at, id
		LIMIT $3`
	return r.queryItems(ctx, r.db, query, since, afterID, limit)
}
