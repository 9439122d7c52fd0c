package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transaction-reconciler/internal/domain"
	"transaction-reconciler/internal/testdb"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newItem(owner domain.OwnerRef) *domain.TransactionItem {
	return &domain.TransactionItem{
		Token:            uuid.New(),
		Owner:            owner,
		Name:             "card",
		Currency:         "USD",
		AvailableActions: []domain.TransactionAction{domain.ActionCharge},
		Metadata:         json.RawMessage(`{"source":"test"}`),
	}
}

func TestRepositories(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	txRepo := NewTransactionRepo(db)
	evRepo := NewEventRepo(db)
	orderRepo := NewOrderRepo(db)
	checkoutRepo := NewCheckoutRepo(db)
	paymentRepo := NewPaymentRepo(db)
	grantRepo := NewGrantedRefundRepo(db)

	t.Run("transaction item round trip", func(t *testing.T) {
		testdb.Reset(t, db)
		channel := testdb.SeedChannel(t, db, "USD", false)
		orderID := testdb.SeedOrder(t, db, channel, "USD", "100.00")

		item := newItem(domain.OrderOwner(orderID))
		require.NoError(t, txRepo.Create(ctx, nil, item))
		require.NotZero(t, item.ID)

		byToken, err := txRepo.FindByRef(ctx, nil, domain.TokenRef(item.Token))
		require.NoError(t, err)
		byID, err := txRepo.FindByRef(ctx, nil, domain.LegacyRef(item.ID))
		require.NoError(t, err)
		assert.Equal(t, byToken.ID, byID.ID)
		assert.Equal(t, domain.OrderOwner(orderID), byToken.Owner)
		assert.Equal(t, []domain.TransactionAction{domain.ActionCharge}, byToken.AvailableActions)
		assert.JSONEq(t, `{"source":"test"}`, string(byToken.Metadata))
		assert.Empty(t, byToken.PSPReference)

		byToken.PSPReference = "psp-1"
		byToken.Totals.Charged = dec("12.34")
		byToken.Totals.ChargePending = dec("1.00")
		require.NoError(t, txRepo.Update(ctx, nil, byToken))

		got, err := txRepo.FindByRef(ctx, nil, domain.TokenRef(item.Token))
		require.NoError(t, err)
		assert.Equal(t, "psp-1", got.PSPReference)
		assert.True(t, got.Totals.Charged.Equal(dec("12.34")))

		_, err = txRepo.FindByRef(ctx, nil, domain.TokenRef(uuid.New()))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("pending charges are aged by their last request", func(t *testing.T) {
		testdb.Reset(t, db)
		channel := testdb.SeedChannel(t, db, "USD", false)
		orderID := testdb.SeedOrder(t, db, channel, "USD", "100.00")
		item := newItem(domain.OrderOwner(orderID))
		require.NoError(t, txRepo.Create(ctx, nil, item))

		req := &domain.TransactionEvent{
			Token:                 uuid.New(),
			TransactionID:         item.ID,
			Type:                  domain.ChargeRequest,
			Amount:                dec("10.00"),
			Currency:              "USD",
			PSPReference:          "psp-stuck",
			IncludeInCalculations: true,
			IdempotencyKey:        domain.EventIdempotencyKey("psp-stuck", domain.ChargeRequest),
		}
		require.NoError(t, evRepo.Create(ctx, nil, req))
		info := &domain.TransactionEvent{
			Token:                 uuid.New(),
			TransactionID:         item.ID,
			Type:                  domain.Info,
			Currency:              "USD",
			PSPReference:          "psp-note",
			IncludeInCalculations: true,
		}
		require.NoError(t, evRepo.Create(ctx, nil, info))

		item.Totals.ChargePending = dec("10.00")
		require.NoError(t, txRepo.Update(ctx, nil, item))
		_, err := db.ExecContext(ctx,
			`UPDATE transaction_events SET created_at = now() - interval '10 minutes' WHERE id = $1`, req.ID)
		require.NoError(t, err)

		// The info event and the update touched the item just now; the request is old.
		pending, err := txRepo.FindPendingCharges(ctx, time.Now().Add(-5*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, item.ID, pending[0].ID)

		pending, err = txRepo.FindPendingCharges(ctx, time.Now().Add(-time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("modified items page by modification time and id", func(t *testing.T) {
		testdb.Reset(t, db)
		channel := testdb.SeedChannel(t, db, "USD", false)
		orderID := testdb.SeedOrder(t, db, channel, "USD", "100.00")
		var ids []int64
		for i := 0; i < 3; i++ {
			item := newItem(domain.OrderOwner(orderID))
			require.NoError(t, txRepo.Create(ctx, nil, item))
			ids = append(ids, item.ID)
		}
		_, err := db.ExecContext(ctx, `UPDATE transaction_items SET modified_at = now() - interval '1 minute'`)
		require.NoError(t, err)

		since := time.Now().Add(-time.Hour)
		var seen []int64
		var afterID int64
		for page := 0; page < 5; page++ {
			batch, err := txRepo.ListModifiedSince(ctx, since, afterID, 1)
			require.NoError(t, err)
			if len(batch) == 0 {
				break
			}
			seen = append(seen, batch[0].ID)
			since, afterID = batch[0].ModifiedAt, batch[0].ID
		}
		assert.Equal(t, ids, seen)
	})

	t.Run("item requires an existing owner", func(t *testing.T) {
		testdb.Reset(t, db)
		item := newItem(domain.OwnerRef{Kind: domain.OwnerOrder, ID: uuid.New()})
		assert.Error(t, txRepo.Create(ctx, nil, item), "unknown order violates the foreign key")
	})

	t.Run("events are unique per idempotency key", func(t *testing.T) {
		testdb.Reset(t, db)
		channel := testdb.SeedChannel(t, db, "USD", false)
		orderID := testdb.SeedOrder(t, db, channel, "USD", "100.00")
		item := newItem(domain.OrderOwner(orderID))
		require.NoError(t, txRepo.Create(ctx, nil, item))

		ev := &domain.TransactionEvent{
			Token:                 uuid.New(),
			TransactionID:         item.ID,
			Type:                  domain.ChargeSuccess,
			Amount:                dec("10.00"),
			Currency:              "USD",
			PSPReference:          "psp-1",
			IncludeInCalculations: true,
			IdempotencyKey:        domain.EventIdempotencyKey("psp-1", domain.ChargeSuccess),
		}
		require.NoError(t, evRepo.Create(ctx, nil, ev))

		dup := *ev
		dup.Token = uuid.New()
		err := evRepo.Create(ctx, nil, &dup)
		require.Error(t, err)
		assert.True(t, IsUniqueViolation(err))

		// Synthetic events carry no key and never collide.
		for i := 0; i < 2; i++ {
			synthetic := &domain.TransactionEvent{
				Token:         uuid.New(),
				TransactionID: item.ID,
				Type:          domain.ChargeFailure,
				Amount:        dec("10.00"),
				Currency:      "USD",
				PSPReference:  "psp-1",
			}
			require.NoError(t, evRepo.Create(ctx, nil, synthetic))
		}

		found, err := evRepo.FindByIdempotencyKey(ctx, nil, item.ID, ev.IdempotencyKey)
		require.NoError(t, err)
		assert.Equal(t, ev.ID, found.ID)

		events, err := evRepo.ListByTransaction(ctx, nil, item.ID)
		require.NoError(t, err)
		assert.Len(t, events, 3)
		assert.Equal(t, ev.ID, events[0].ID)
	})

	t.Run("order payment state and search", func(t *testing.T) {
		testdb.Reset(t, db)
		channel := testdb.SeedChannel(t, db, "USD", false)
		orderID := testdb.SeedOrder(t, db, channel, "USD", "100.00")

		item := newItem(domain.OrderOwner(orderID))
		item.PSPReference = "pi_3Nabc"
		require.NoError(t, txRepo.Create(ctx, nil, item))

		order, err := orderRepo.FindById(ctx, nil, orderID)
		require.NoError(t, err)
		order.SetPayment(domain.PaymentState{
			TotalAuthorized: decimal.Zero,
			TotalCharged:    dec("100"),
			TotalRefunded:   decimal.Zero,
			AuthorizeStatus: domain.AuthorizeFull,
			ChargeStatus:    domain.ChargeFull,
		})
		require.NoError(t, orderRepo.UpdatePaymentState(ctx, nil, order))
		require.NoError(t, orderRepo.RefreshSearchVector(ctx, nil, orderID))

		got, err := orderRepo.FindById(ctx, nil, orderID)
		require.NoError(t, err)
		assert.Equal(t, domain.ChargeFull, got.ChargeStatus)
		assert.True(t, got.TotalCharged.Equal(dec("100")))

		hits, err := orderRepo.Search(ctx, "pi_3Nabc", 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, orderID, hits[0].ID)
	})

	t.Run("checkout completion moves items and legacy payments", func(t *testing.T) {
		testdb.Reset(t, db)
		channel := testdb.SeedChannel(t, db, "USD", true)
		token := testdb.SeedCheckout(t, db, channel, "USD", "50.00")

		ch, err := checkoutRepo.FindChannel(ctx, nil, channel)
		require.NoError(t, err)
		assert.True(t, ch.AutomaticallyCompleteFullyPaidCheckouts)

		legacy := &domain.Payment{
			ID:         uuid.New(),
			CheckoutID: uuid.NullUUID{UUID: token, Valid: true},
			Amount:     dec("50"),
			Currency:   "USD",
			Status:     domain.PaymentProcessing,
			IsActive:   true,
		}
		require.NoError(t, paymentRepo.CreatePayment(ctx, nil, legacy))

		item := newItem(domain.CheckoutOwner(token))
		require.NoError(t, txRepo.Create(ctx, nil, item))

		err = WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := checkoutRepo.LockByToken(ctx, tx, token); err != nil {
				return err
			}
			n, err := paymentRepo.DeactivateForCheckout(ctx, tx, token)
			if err != nil {
				return err
			}
			assert.EqualValues(t, 1, n)

			orderID := uuid.New()
			order := &domain.Order{
				ID:            orderID,
				ChannelID:     channel,
				CheckoutToken: uuid.NullUUID{UUID: token, Valid: true},
				Status:        domain.OrderUnconfirmed,
				Currency:      "USD",
				TotalGross:    dec("50"),
				PaymentState: domain.PaymentState{
					AuthorizeStatus: domain.AuthorizeNone,
					ChargeStatus:    domain.ChargeNone,
				},
			}
			if err := orderRepo.CreateOrder(ctx, tx, order); err != nil {
				return err
			}
			if err := txRepo.MoveToOrder(ctx, tx, token, orderID); err != nil {
				return err
			}
			if err := paymentRepo.MoveToOrder(ctx, tx, token, orderID); err != nil {
				return err
			}
			return checkoutRepo.MarkCompleted(ctx, tx, token, orderID)
		})
		require.NoError(t, err)

		moved, err := txRepo.FindByRef(ctx, nil, domain.TokenRef(item.Token))
		require.NoError(t, err)
		assert.True(t, moved.Owner.IsOrder())

		p, err := paymentRepo.FindById(ctx, nil, legacy.ID)
		require.NoError(t, err)
		assert.False(t, p.IsActive)
		assert.True(t, p.OrderID.Valid)

		c, err := checkoutRepo.FindByToken(ctx, nil, token)
		require.NoError(t, err)
		assert.Equal(t, moved.Owner.ID, c.CompletedOrderID.UUID)

		assert.ErrorIs(t, checkoutRepo.MarkCompleted(ctx, nil, token, uuid.New()), ErrNotFound)
	})

	t.Run("WithTx rolls back on error", func(t *testing.T) {
		testdb.Reset(t, db)
		channel := testdb.SeedChannel(t, db, "USD", false)
		token := testdb.SeedCheckout(t, db, channel, "USD", "10.00")
		boom := errors.New("boom")

		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			require.NoError(t, txRepo.Create(ctx, tx, newItem(domain.CheckoutOwner(token))))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		items, err := txRepo.ListByOwner(ctx, nil, domain.CheckoutOwner(token))
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("granted refunds settle oldest matching grant", func(t *testing.T) {
		testdb.Reset(t, db)
		channel := testdb.SeedChannel(t, db, "USD", false)
		orderID := testdb.SeedOrder(t, db, channel, "USD", "100.00")
		item := newItem(domain.OrderOwner(orderID))
		require.NoError(t, txRepo.Create(ctx, nil, item))

		var grants []*domain.OrderGrantedRefund
		for _, amt := range []string{"25", "25", "10"} {
			g := &domain.OrderGrantedRefund{
				ID:                uuid.New(),
				OrderID:           orderID,
				Amount:            dec(amt),
				Currency:          "USD",
				Status:            domain.GrantedRefundNone,
				TransactionItemID: &item.ID,
			}
			require.NoError(t, grantRepo.Create(ctx, nil, g))
			grants = append(grants, g)
		}

		sum, err := grantRepo.SumForOrder(ctx, nil, orderID)
		require.NoError(t, err)
		assert.True(t, sum.Equal(dec("60")))

		ev := &domain.TransactionEvent{
			Token: uuid.New(), TransactionID: item.ID, Type: domain.RefundSuccess,
			Amount: dec("25"), Currency: "USD", PSPReference: "psp-r", IncludeInCalculations: true,
		}
		require.NoError(t, evRepo.Create(ctx, nil, ev))

		err = WithTx(ctx, db, func(tx *sql.Tx) error {
			g, err := grantRepo.FindSettleable(ctx, tx, item.ID, dec("25"))
			if err != nil {
				return err
			}
			assert.Equal(t, grants[0].ID, g.ID)
			return grantRepo.Settle(ctx, tx, g.ID, domain.GrantedRefundSuccess, ev.ID)
		})
		require.NoError(t, err)

		list, err := grantRepo.ListByOrder(ctx, nil, orderID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, domain.GrantedRefundSuccess, list[0].Status)
		require.NotNil(t, list[0].TransactionEventID)
		assert.Equal(t, ev.ID, *list[0].TransactionEventID)

		_, err = grantRepo.FindSettleable(ctx, nil, item.ID, dec("99"))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
