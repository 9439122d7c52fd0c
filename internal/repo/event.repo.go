package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"transaction-reconciler/internal/domain"
)

type EventRepo interface {
	// ListByTransaction returns the event log in creation order.
	ListByTransaction(ctx context.Context, tx *sql.Tx, transactionID int64) ([]domain.TransactionEvent, error)
	FindByIdempotencyKey(ctx context.Context, tx *sql.Tx, transactionID int64, key string) (*domain.TransactionEvent, error)
	Create(ctx context.Context, tx *sql.Tx, ev *domain.TransactionEvent) error
}

type eventRepo struct {
	db *sql.DB
}

func NewEventRepo(db *sql.DB) EventRepo {
	return &eventRepo{db: db}
}

const eventColumns = `
	id, token, transaction_id, type, amount, currency, psp_reference, message, external_url,
	include_in_calculations, idempotency_key, user_id, app_id, metadata, created_at`

func scanEvent(row rowScanner) (*domain.TransactionEvent, error) {
	var (
		ev       domain.TransactionEvent
		psp      sql.NullString
		key      sql.NullString
		metadata []byte
	)
	err := row.Scan(
		&ev.ID,
		&ev.Token,
		&ev.TransactionID,
		&ev.Type,
		&ev.Amount,
		&ev.Currency,
		&psp,
		&ev.Message,
		&ev.ExternalURL,
		&ev.IncludeInCalculations,
		&key,
		&ev.UserID,
		&ev.AppID,
		&metadata,
		&ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	ev.PSPReference = psp.String
	ev.IdempotencyKey = key.String
	ev.Metadata = json.RawMessage(metadata)
	return &ev, nil
}

func (r *eventRepo) ListByTransaction(ctx context.Context, tx *sql.Tx, transactionID int64) ([]domain.TransactionEvent, error) {
	query := "SELECT " + eventColumns + " FROM transaction_events WHERE transaction_id = $1 ORDER BY id"
	rows, err := execNode(r.db, tx).QueryContext(ctx, query, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.TransactionEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

func (r *eventRepo) FindByIdempotencyKey(ctx context.Context, tx *sql.Tx, transactionID int64, key string) (*domain.TransactionEvent, error) {
	query := "SELECT " + eventColumns + " FROM transaction_events WHERE transaction_id = $1 AND idempotency_key = $2"
	ev, err := scanEvent(execNode(r.db, tx).QueryRowContext(ctx, query, transactionID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// Create appends the event and fills in its id and creation time.
// A second reported event with the same idempotency key fails with a unique violation.
func (r *eventRepo) Create(ctx context.Context, tx *sql.Tx, ev *domain.TransactionEvent) error {
	query := `
		INSERT INTO transaction_events (
			token, transaction_id, type, amount, currency, psp_reference, message, external_url,
			include_in_calculations, idempotency_key, user_id, app_id, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb)
		RETURNING id, created_at`

	return execNode(r.db, tx).QueryRowContext(ctx, query,
		ev.Token,
		ev.TransactionID,
		ev.Type,
		ev.Amount,
		ev.Currency,
		nullString(ev.PSPReference),
		ev.Message,
		ev.ExternalURL,
		ev.IncludeInCalculations,
		nullString(ev.IdempotencyKey),
		ev.UserID,
		ev.AppID,
		jsonOrDefault(ev.Metadata, "{}"),
	).Scan(&ev.ID, &ev.CreatedAt)
}
