package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"transaction-reconciler/internal/apperr"
	"transaction-reconciler/internal/domain"
	"transaction-reconciler/internal/infrastructure/payment"
)

func fixedGateway(roll int) payment.PaymentGateway {
	return payment.NewPaymentGateway(zap.NewNop(),
		payment.WithLatency(0, 0),
		payment.WithRoll(func() int { return roll }),
	)
}

func TestChargeService(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		roll        int
		want        Outcome
		charged     string
		pending     string
		status      domain.ChargeStatus
		lastEvent   domain.TransactionEventType
		gatewayKeep payment.Status
	}{
		{"provider succeeds", 0, OutcomeSucceeded, "100", "0", domain.ChargeFull, domain.ChargeSuccess, payment.StatusSucceeded},
		{"provider declines", 75, OutcomeDeclined, "0", "0", domain.ChargeNone, domain.ChargeFailure, payment.StatusDeclined},
		{"provider times out", 95, OutcomePending, "0", "100", domain.ChargeNone, domain.ChargeRequest, payment.StatusSucceeded},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h.reset(t)
			gw := fixedGateway(tc.roll)
			charges := NewChargeService(h.svc, gw, zap.NewNop())

			orderID, item := h.orderTransaction(t, "100.00")
			_, err := h.report(t, item, domain.AuthorizationSuccess, "100", "auth-1")
			require.NoError(t, err)

			res, err := charges.Charge(ctx, h.app, ChargeInput{Ref: item.Ref()})
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Outcome)
			assert.True(t, res.Transaction.Totals.Charged.Equal(dec(tc.charged)))
			assert.True(t, res.Transaction.Totals.ChargePending.Equal(dec(tc.pending)))
			assert.Equal(t, tc.status, h.order(t, orderID).ChargeStatus)

			evs := h.events(t, item)
			assert.Equal(t, tc.lastEvent, evs[len(evs)-1].Type)

			status, err := gw.CheckStatus(ctx, res.PSPReference)
			require.NoError(t, err)
			assert.Equal(t, tc.gatewayKeep, status)
		})
	}

	t.Run("refund defaults to the charged amount", func(t *testing.T) {
		h.reset(t)
		charges := NewChargeService(h.svc, fixedGateway(0), zap.NewNop())
		orderID, item := h.orderTransaction(t, "80.00")
		_, err := h.report(t, item, domain.ChargeSuccess, "80", "ch-1")
		require.NoError(t, err)

		res, err := charges.Refund(ctx, h.app, ChargeInput{Ref: item.Ref()})
		require.NoError(t, err)
		assert.Equal(t, OutcomeSucceeded, res.Outcome)
		assert.True(t, res.Transaction.Totals.Refunded.Equal(dec("80")))
		assert.True(t, h.order(t, orderID).TotalRefunded.Equal(dec("80")))
	})

	t.Run("nothing to charge", func(t *testing.T) {
		h.reset(t)
		charges := NewChargeService(h.svc, fixedGateway(0), zap.NewNop())
		_, item := h.orderTransaction(t, "10.00")

		_, err := charges.Charge(ctx, h.app, ChargeInput{Ref: item.Ref()})
		assert.True(t, apperr.HasCode(err, apperr.CodeInvalid))
		assert.Empty(t, h.events(t, item))
	})
}
