package worker

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"transaction-reconciler/internal/auth"
	"transaction-reconciler/internal/config"
	"transaction-reconciler/internal/domain"
	"transaction-reconciler/internal/infrastructure/payment"
	"transaction-reconciler/internal/service"
)

type fakeItems struct {
	pending      []domain.TransactionItem
	modified     []domain.TransactionItem
	pendingCalls []time.Time
	sinceCalls   []time.Time
	err          error
}

type cursor struct {
	at time.Time
	id int64
}

func (f *fakeItems) FindPendingCharges(_ context.Context, before time.Time, _ int) ([]domain.TransactionItem, error) {
	f.pendingCalls = append(f.pendingCalls, before)
	return f.pending, f.err
}

func (f *fakeItems) ListModifiedSince(_ context.Context, since time.Time, afterID int64, limit int) ([]domain.TransactionItem, error) {
	f.sinceCalls = append(f.sinceCalls, since)
	after := func(it domain.TransactionItem) bool {
		if !it.ModifiedAt.Equal(since) {
			return it.ModifiedAt.After(since)
		}
		return it.ID > afterID
	}

	var out []domain.TransactionItem
	for _, it := range f.modified {
		if after(it) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].ModifiedAt.Before(out[j].ModifiedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeReconciler struct {
	events     map[uuid.UUID][]domain.TransactionEvent
	reported   []service.ReportEventInput
	reportErr  error
	drifted    map[uuid.UUID]bool
	recomputed []domain.TransactionRef
}

func (f *fakeReconciler) GetTransaction(_ context.Context, _ auth.Actor, ref domain.TransactionRef) (*service.TransactionDetails, error) {
	return &service.TransactionDetails{
		Transaction: &domain.TransactionItem{Token: ref.Token},
		Events:      f.events[ref.Token],
	}, nil
}

func (f *fakeReconciler) ReportEvent(_ context.Context, _ auth.Actor, in service.ReportEventInput) (*service.ReportEventResult, error) {
	f.reported = append(f.reported, in)
	return &service.ReportEventResult{}, f.reportErr
}

func (f *fakeReconciler) RecalculateTransaction(_ context.Context, ref domain.TransactionRef) (bool, error) {
	f.recomputed = append(f.recomputed, ref)
	return f.drifted[ref.Token], nil
}

func request(psp string) domain.TransactionEvent {
	return domain.TransactionEvent{Type: domain.ChargeRequest, PSPReference: psp, Amount: decimal.NewFromInt(10), IncludeInCalculations: true}
}

func answer(typ domain.TransactionEventType, psp string) domain.TransactionEvent {
	return domain.TransactionEvent{Type: typ, PSPReference: psp, Amount: decimal.NewFromInt(10), IncludeInCalculations: true}
}

type stubGateway struct {
	payment.PaymentGateway
	statuses map[string]payment.Status
	err      error
}

func (g stubGateway) CheckStatus(_ context.Context, psp string) (payment.Status, error) {
	if g.err != nil {
		return payment.StatusUnknown, g.err
	}
	if s, ok := g.statuses[psp]; ok {
		return s, nil
	}
	return payment.StatusUnknown, nil
}

func newWorker(items ItemSource, rec Reconciler, gw payment.PaymentGateway, now time.Time) *ReconciliationWorker {
	w := NewReconciliationWorker(items, rec, gw, config.WorkerConfig{
		Interval:     time.Second,
		StuckAfter:   time.Minute,
		AbandonAfter: time.Hour,
		BatchSize:    10,
	}, zap.NewNop())
	w.now = func() time.Time { return now }
	return w
}

func TestOpenRequests(t *testing.T) {
	events := []domain.TransactionEvent{
		request("a"),
		request("b"),
		answer(domain.ChargeSuccess, "a"),
		request("c"),
		answer(domain.ChargeFailure, "c"),
		{Type: domain.ChargeRequest, PSPReference: "d", IncludeInCalculations: false},
		{Type: domain.RefundRequest, PSPReference: "e", IncludeInCalculations: true},
		request("b"),
	}

	open := openRequests(events, domain.BucketCharge)
	require.Len(t, open, 1)
	assert.Equal(t, "b", open[0].PSPReference)
}

func TestSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("settles stuck charges from the provider", func(t *testing.T) {
		item := domain.TransactionItem{ID: 1, Token: uuid.New()}
		items := &fakeItems{pending: []domain.TransactionItem{item}}
		rec := &fakeReconciler{events: map[uuid.UUID][]domain.TransactionEvent{
			item.Token: {request("ghost"), request("declined"), request("lost"), request("done"), answer(domain.ChargeSuccess, "done")},
		}}
		gw := stubGateway{statuses: map[string]payment.Status{
			"ghost":    payment.StatusSucceeded,
			"declined": payment.StatusDeclined,
		}}

		stats, err := newWorker(items, rec, gw, now).Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Settled: 3}, stats)
		assert.Equal(t, []time.Time{now.Add(-time.Minute)}, items.pendingCalls)

		require.Len(t, rec.reported, 3)
		got := map[string]domain.TransactionEventType{}
		for _, in := range rec.reported {
			assert.Nil(t, in.Amount, "amount comes from the request")
			assert.Equal(t, item.Ref(), in.Ref)
			got[in.PSPReference] = in.Type
		}
		assert.Equal(t, map[string]domain.TransactionEventType{
			"ghost":    domain.ChargeSuccess,
			"declined": domain.ChargeFailure,
			"lost":     domain.ChargeFailure,
		}, got)
	})

	t.Run("provider errors leave requests for the next sweep", func(t *testing.T) {
		item := domain.TransactionItem{ID: 2, Token: uuid.New()}
		rec := &fakeReconciler{events: map[uuid.UUID][]domain.TransactionEvent{item.Token: {request("x")}}}

		stats, err := newWorker(&fakeItems{pending: []domain.TransactionItem{item}}, rec,
			stubGateway{err: payment.ErrTimeout}, now).Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Failed: 1}, stats)
		assert.Empty(t, rec.reported)
	})

	t.Run("unknown requests inside the abandonment window are deferred", func(t *testing.T) {
		item := domain.TransactionItem{ID: 5, Token: uuid.New()}
		fresh := request("fresh")
		fresh.CreatedAt = now.Add(-10 * time.Minute)
		old := request("old")
		old.CreatedAt = now.Add(-2 * time.Hour)
		rec := &fakeReconciler{events: map[uuid.UUID][]domain.TransactionEvent{item.Token: {fresh, old}}}

		stats, err := newWorker(&fakeItems{pending: []domain.TransactionItem{item}}, rec, stubGateway{}, now).Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Settled: 1, Deferred: 1}, stats)
		require.Len(t, rec.reported, 1)
		assert.Equal(t, "old", rec.reported[0].PSPReference)
		assert.Equal(t, domain.ChargeFailure, rec.reported[0].Type)
	})

	t.Run("repairs drifted items modified since the last sweep", func(t *testing.T) {
		drifted := domain.TransactionItem{ID: 3, Token: uuid.New(), ModifiedAt: now.Add(-500 * time.Millisecond)}
		clean := domain.TransactionItem{ID: 4, Token: uuid.New(), ModifiedAt: now.Add(-500 * time.Millisecond)}
		items := &fakeItems{modified: []domain.TransactionItem{drifted, clean}}
		rec := &fakeReconciler{drifted: map[uuid.UUID]bool{drifted.Token: true}}
		w := newWorker(items, rec, stubGateway{}, now)

		stats, err := w.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Repaired)
		assert.Len(t, rec.recomputed, 2)

		later := now.Add(time.Second)
		w.now = func() time.Time { return later }
		_, err = w.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, []time.Time{now.Add(-time.Second), now}, items.sinceCalls)
	})

	t.Run("pages through more modified items than one batch", func(t *testing.T) {
		at := now.Add(-500 * time.Millisecond)
		items := &fakeItems{modified: []domain.TransactionItem{
			{ID: 7, Token: uuid.New(), ModifiedAt: at},
			{ID: 6, Token: uuid.New(), ModifiedAt: at},
			{ID: 8, Token: uuid.New(), ModifiedAt: now.Add(-100 * time.Millisecond)},
		}}
		rec := &fakeReconciler{}
		w := newWorker(items, rec, stubGateway{}, now)
		w.batchSize = 1

		_, err := w.Sweep(ctx)
		require.NoError(t, err)

		var ids []int64
		for _, ref := range rec.recomputed {
			for _, it := range items.modified {
				if it.Token == ref.Token {
					ids = append(ids, it.ID)
				}
			}
		}
		assert.Equal(t, []int64{6, 7, 8}, ids)
		assert.Len(t, items.sinceCalls, 4, "three full pages and a short one")
	})

	t.Run("listing failure aborts the sweep", func(t *testing.T) {
		items := &fakeItems{err: errors.New("db down")}
		_, err := newWorker(items, &fakeReconciler{}, stubGateway{}, now).Sweep(ctx)
		assert.EqualError(t, err, "db down")
		assert.Empty(t, items.sinceCalls)
	})
}

func TestRunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w := newWorker(&fakeItems{}, &fakeReconciler{}, stubGateway{}, time.Now())
	w.interval = 10 * time.Millisecond

	go func() {
		w.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
