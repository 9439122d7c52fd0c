package calc

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"transaction-reconciler/internal/domain"
)

var t0 = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type eventLog struct {
	events []domain.TransactionEvent
}

func (l *eventLog) add(typ domain.TransactionEventType, amount, psp string) *eventLog {
	n := len(l.events)
	l.events = append(l.events, domain.TransactionEvent{
		ID:                    int64(n + 1),
		Type:                  typ,
		Amount:                dec(amount),
		Currency:              "USD",
		PSPReference:          psp,
		IncludeInCalculations: true,
		CreatedAt:             t0.Add(time.Duration(n) * time.Second),
	})
	return l
}

func assertAmount(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), "%s: got %s want %s", field, got, want)
}

func TestAggregate_AuthorizeThenCharge(t *testing.T) {
	log := (&eventLog{}).
		add(domain.AuthorizationSuccess, "100", "psp-auth").
		add(domain.ChargeRequest, "60", "psp-ch-1").
		add(domain.ChargeSuccess, "60", "psp-ch-1")

	got := Aggregate(log.events)

	assertAmount(t, "40", got.Authorized, "authorized")
	assertAmount(t, "60", got.Charged, "charged")
	assertAmount(t, "0", got.ChargePending, "charge pending")
}

func TestAggregate_PendingLifecycle(t *testing.T) {
	log := (&eventLog{}).
		add(domain.ChargeRequest, "30", "psp-1").
		add(domain.ChargeRequest, "20", "psp-2")

	got := Aggregate(log.events)
	assertAmount(t, "50", got.ChargePending, "both requests pending")
	assertAmount(t, "0", got.Charged, "nothing settled")

	log.add(domain.ChargeFailure, "20", "psp-2")
	got = Aggregate(log.events)
	assertAmount(t, "30", got.ChargePending, "failure clears its request")
	assertAmount(t, "0", got.Charged, "failure never settles")

	log.add(domain.ChargeSuccess, "30", "psp-1")
	got = Aggregate(log.events)
	assertAmount(t, "0", got.ChargePending, "success clears its request")
	assertAmount(t, "30", got.Charged, "success settles")
}

func TestAggregate_RefundAndReverse(t *testing.T) {
	log := (&eventLog{}).
		add(domain.ChargeSuccess, "100", "psp-ch").
		add(domain.RefundRequest, "40", "psp-rf").
		add(domain.RefundSuccess, "40", "psp-rf")

	got := Aggregate(log.events)
	assertAmount(t, "60", got.Charged, "charged after refund")
	assertAmount(t, "40", got.Refunded, "refunded")
	assertAmount(t, "0", got.RefundPending, "refund pending")

	log.add(domain.RefundReverse, "15", "psp-rf-rev")
	got = Aggregate(log.events)
	assertAmount(t, "25", got.Refunded, "reverse subtracts from refunded")
	assertAmount(t, "75", got.Charged, "reverse returns funds to charged")
}

func TestAggregate_CancelAndAdjustment(t *testing.T) {
	log := (&eventLog{}).
		add(domain.AuthorizationSuccess, "80", "psp-a").
		add(domain.AuthorizationAdjustment, "50", "psp-adj").
		add(domain.CancelRequest, "50", "psp-c")

	got := Aggregate(log.events)
	assertAmount(t, "50", got.Authorized, "adjustment overrides")
	assertAmount(t, "50", got.CancelPending, "cancel pending")

	log.add(domain.CancelSuccess, "50", "psp-c")
	got = Aggregate(log.events)
	assertAmount(t, "0", got.Authorized, "canceled funds leave authorized")
	assertAmount(t, "50", got.Canceled, "canceled")
	assertAmount(t, "0", got.CancelPending, "cancel pending cleared")
}

func TestAggregate_SkipsExcludedAndInfoEvents(t *testing.T) {
	log := (&eventLog{}).
		add(domain.ChargeSuccess, "10", "psp-1").
		add(domain.Info, "999", "psp-info").
		add(domain.ChargeSuccess, "5", "psp-2")
	log.events[2].IncludeInCalculations = false

	got := Aggregate(log.events)
	assertAmount(t, "10", got.Charged, "charged")
}

func TestAggregate_OrdersByAppendOrder(t *testing.T) {
	log := (&eventLog{}).
		add(domain.AuthorizationAdjustment, "10", "psp-adj").
		add(domain.AuthorizationSuccess, "100", "psp-a")
	// Reverse slice order; the id decides.
	reversed := []domain.TransactionEvent{log.events[1], log.events[0]}

	assert.True(t, Aggregate(log.events).Equal(Aggregate(reversed)))
	assertAmount(t, "110", Aggregate(reversed).Authorized, "adjustment then success")
}

func TestAggregate_IgnoresCreationTimeSkew(t *testing.T) {
	// A success whose transaction started first but waited on the row lock
	// is appended after its request with an earlier created_at.
	log := (&eventLog{}).
		add(domain.ChargeRequest, "30", "psp-1").
		add(domain.ChargeSuccess, "30", "psp-1")
	log.events[0].CreatedAt = t0.Add(time.Second)
	log.events[1].CreatedAt = t0

	got := Aggregate([]domain.TransactionEvent{log.events[1], log.events[0]})
	assertAmount(t, "30", got.Charged, "charged")
	assertAmount(t, "0", got.ChargePending, "charge pending")
}

func TestAggregate_NeverNegative(t *testing.T) {
	log := (&eventLog{}).
		add(domain.RefundSuccess, "20", "psp-r").
		add(domain.CancelSuccess, "20", "psp-c")

	got := Aggregate(log.events)
	assertAmount(t, "0", got.Charged, "charged floors at zero")
	assertAmount(t, "0", got.Authorized, "authorized floors at zero")
	assertAmount(t, "20", got.Refunded, "refunded")
}

func TestAggregate_MonotonicPerBucket(t *testing.T) {
	log := &eventLog{}
	prev := decimal.Zero
	for _, amt := range []string{"1.10", "0", "3.33", "12.00", "0.01"} {
		log.add(domain.ChargeSuccess, amt, "psp-"+amt)
		charged := Aggregate(log.events).Charged
		assert.True(t, charged.GreaterThanOrEqual(prev), "charged decreased: %s -> %s", prev, charged)
		prev = charged
	}
	assertAmount(t, "16.44", prev, "sum")
}

func TestAggregate_IncrementalMatchesFullRecompute(t *testing.T) {
	log := (&eventLog{}).
		add(domain.AuthorizationRequest, "100", "psp-a").
		add(domain.AuthorizationSuccess, "100", "psp-a").
		add(domain.ChargeRequest, "70", "psp-c").
		add(domain.ChargeSuccess, "70", "psp-c").
		add(domain.RefundRequest, "10", "psp-r")

	var a Aggregator
	for _, ev := range log.events {
		a.Apply(ev)
	}
	assert.True(t, a.Totals().Equal(Aggregate(log.events)))
	assert.True(t, Aggregate(log.events).Equal(Aggregate(log.events)), "recompute is deterministic")
}
