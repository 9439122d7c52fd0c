package testdb

import (
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func SeedChannel(t *testing.T, db *sql.DB, currency string, autoComplete bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(
		`INSERT INTO channels (id, slug, currency, automatically_complete_fully_paid_checkouts) VALUES ($1, $2, $3, $4)`,
		id, "channel-"+id.String()[:8], currency, autoComplete,
	)
	require.NoError(t, err)
	return id
}

func SeedOrder(t *testing.T, db *sql.DB, channelID uuid.UUID, currency, total string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(
		`INSERT INTO orders (id, channel_id, email, status, currency, total_gross) VALUES ($1, $2, $3, 'UNCONFIRMED', $4, $5::numeric)`,
		id, channelID, "buyer-"+id.String()[:8]+"@example.com", currency, total,
	)
	require.NoError(t, err)
	return id
}

func SeedCheckout(t *testing.T, db *sql.DB, channelID uuid.UUID, currency, total string) uuid.UUID {
	t.Helper()
	token := uuid.New()
	_, err := db.Exec(
		`INSERT INTO checkouts (token, channel_id, email, currency, total_gross) VALUES ($1, $2, $3, $4, $5::numeric)`,
		token, channelID, "buyer-"+token.String()[:8]+"@example.com", currency, total,
	)
	require.NoError(t, err)
	return token
}
