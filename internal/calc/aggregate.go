// Package calc holds the pure money arithmetic of transaction reconciliation:
// folding an event log into running totals and mapping totals to payment statuses.
package calc

import (
	"sort"

	"github.com/shopspring/decimal"

	"transaction-reconciler/internal/domain"
)

type pendingRequest struct {
	pspReference string
	amount       decimal.Decimal
}

// Aggregator folds transaction events into running totals. The zero value is ready to use.
type Aggregator struct {
	totals  domain.Totals
	pending map[domain.Bucket][]pendingRequest
}

// Aggregate recomputes totals from the full event log. Events not included in
// calculations are skipped; the rest are applied in append order. Ids are
// allocated under the item's row lock, so id order is append order even when
// created_at (the transaction start time) says otherwise.
func Aggregate(events []domain.TransactionEvent) domain.Totals {
	ordered := make([]domain.TransactionEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ID < ordered[j].ID
	})

	var a Aggregator
	for _, ev := range ordered {
		a.Apply(ev)
	}
	return a.Totals()
}

// Apply folds one event into the running totals.
func (a *Aggregator) Apply(ev domain.TransactionEvent) {
	if !ev.IncludeInCalculations {
		return
	}
	amt := ev.Amount
	t := &a.totals

	switch ev.Type.Phase() {
	case domain.PhaseRequest:
		a.addPending(ev.Type.Bucket(), ev.PSPReference, amt)
		return
	case domain.PhaseFailure:
		a.clearPending(ev.Type.Bucket(), ev.PSPReference)
		return
	case domain.PhaseInfo:
		return
	}

	switch ev.Type {
	case domain.AuthorizationSuccess:
		t.Authorized = t.Authorized.Add(amt)
	case domain.AuthorizationAdjustment:
		t.Authorized = amt
	case domain.ChargeSuccess:
		t.Charged = t.Charged.Add(amt)
		t.Authorized = subFloor(t.Authorized, amt)
	case domain.RefundSuccess:
		t.Refunded = t.Refunded.Add(amt)
		t.Charged = subFloor(t.Charged, amt)
	case domain.RefundReverse:
		t.Refunded = subFloor(t.Refunded, amt)
		t.Charged = t.Charged.Add(amt)
	case domain.CancelSuccess:
		t.Canceled = t.Canceled.Add(amt)
		t.Authorized = subFloor(t.Authorized, amt)
	}
	if ev.Type.Phase() == domain.PhaseSuccess {
		a.clearPending(ev.Type.Bucket(), ev.PSPReference)
	}
}

// Totals returns the running totals, pending values included.
func (a *Aggregator) Totals() domain.Totals {
	out := a.totals
	out.AuthorizePending = a.pendingSum(domain.BucketAuthorize)
	out.ChargePending = a.pendingSum(domain.BucketCharge)
	out.RefundPending = a.pendingSum(domain.BucketRefund)
	out.CancelPending = a.pendingSum(domain.BucketCancel)
	return out
}

func (a *Aggregator) addPending(b domain.Bucket, psp string, amt decimal.Decimal) {
	if a.pending == nil {
		a.pending = make(map[domain.Bucket][]pendingRequest)
	}
	a.pending[b] = append(a.pending[b], pendingRequest{pspReference: psp, amount: amt})
}

// clearPending drops the oldest outstanding request of the bucket with the same psp reference.
func (a *Aggregator) clearPending(b domain.Bucket, psp string) {
	if psp == "" {
		return
	}
	reqs := a.pending[b]
	for i, r := range reqs {
		if r.pspReference == psp {
			a.pending[b] = append(reqs[:i:i], reqs[i+1:]...)
			return
		}
	}
}

func (a *Aggregator) pendingSum(b domain.Bucket) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range a.pending[b] {
		sum = sum.Add(r.amount)
	}
	return sum
}

func subFloor(a, b decimal.Decimal) decimal.Decimal {
	if d := a.Sub(b); d.IsPositive() {
		return d
	}
	return decimal.Zero
}
