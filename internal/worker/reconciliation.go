package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"transaction-reconciler/internal/auth"
	"transaction-reconciler/internal/config"
	"transaction-reconciler/internal/domain"
	"transaction-reconciler/internal/infrastructure/payment"
	"transaction-reconciler/internal/service"
)

// ItemSource finds transaction items that need a second look.
type ItemSource interface {
	FindPendingCharges(ctx context.Context, before time.Time, limit int) ([]domain.TransactionItem, error)
	ListModifiedSince(ctx context.Context, since time.Time, afterID int64, limit int) ([]domain.TransactionItem, error)
}

// Reconciler is the part of the transaction service the worker drives.
type Reconciler interface {
	GetTransaction(ctx context.Context, actor auth.Actor, ref domain.TransactionRef) (*service.TransactionDetails, error)
	ReportEvent(ctx context.Context, actor auth.Actor, in service.ReportEventInput) (*service.ReportEventResult, error)
	RecalculateTransaction(ctx context.Context, ref domain.TransactionRef) (bool, error)
}

type ReconciliationWorker struct {
	items        ItemSource
	reconciler   Reconciler
	gateway      payment.PaymentGateway
	interval     time.Duration
	stuckAfter   time.Duration
	abandonAfter time.Duration
	batchSize    int
	log          *zap.Logger
	now          func() time.Time

	lastSweep time.Time
}

func NewReconciliationWorker(
	items ItemSource,
	reconciler Reconciler,
	gateway payment.PaymentGateway,
	cfg config.WorkerConfig,
	log *zap.Logger,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		items:        items,
		reconciler:   reconciler,
		gateway:      gateway,
		interval:     cfg.Interval,
		stuckAfter:   cfg.StuckAfter,
		abandonAfter: cfg.AbandonAfter,
		batchSize:    cfg.BatchSize,
		log:          log,
		now:          time.Now,
	}
}

// Stats counts what one sweep did. Deferred counts requests the provider has
// no record of yet that are still inside the abandonment window.
type Stats struct {
	Settled  int
	Deferred int
	Failed   int
	Repaired int
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.log.Info("reconciliation worker started",
		zap.Duration("interval", rw.interval),
		zap.Duration("stuck_after", rw.stuckAfter),
	)

	for {
		select {
		case <-ctx.Done():
			rw.log.Info("reconciliation worker stopped")
			return
		case <-ticker.C:
			if _, err := rw.Sweep(ctx); err != nil {
				rw.log.Error("reconciliation failed", zap.Error(err))
			}
		}
	}
}

// Sweep settles stuck charge requests from the provider's answer, then repairs
// cached totals of recently modified items.
func (rw *ReconciliationWorker) Sweep(ctx context.Context) (Stats, error) {
	var stats Stats
	started := rw.now()

	stuck, err := rw.items.FindPendingCharges(ctx, started.Add(-rw.stuckAfter), rw.batchSize)
	if err != nil {
		return stats, err
	}
	if len(stuck) > 0 {
		rw.log.Info("found stuck charges", zap.Int("count", len(stuck)))
	}
	for _, item := range stuck {
		rw.settle(ctx, item, &stats)
	}

	since, afterID := rw.lastSweep, int64(0)
	if since.IsZero() {
		since = started.Add(-rw.interval)
	}
	// Page until a short batch so a burst larger than one batch is not skipped.
	for {
		recent, err := rw.items.ListModifiedSince(ctx, since, afterID, rw.batchSize)
		if err != nil {
			return stats, err
		}
		for _, item := range recent {
			repaired, err := rw.reconciler.RecalculateTransaction(ctx, item.Ref())
			if err != nil {
				rw.log.Error("recalculation failed", zap.Int64("transaction_id", item.ID), zap.Error(err))
				continue
			}
			if repaired {
				stats.Repaired++
			}
		}
		if len(recent) < rw.batchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		last := recent[len(recent)-1]
		since, afterID = last.ModifiedAt, last.ID
	}
	rw.lastSweep = started
	return stats, nil
}

// settle asks the provider about every open charge request of one item.
func (rw *ReconciliationWorker) settle(ctx context.Context, item domain.TransactionItem, stats *Stats) {
	details, err := rw.reconciler.GetTransaction(ctx, auth.System(), item.Ref())
	if err != nil {
		rw.log.Error("load transaction", zap.Int64("transaction_id", item.ID), zap.Error(err))
		stats.Failed++
		return
	}

	abandonBefore := rw.now().Add(-rw.abandonAfter)
	for _, req := range openRequests(details.Events, domain.BucketCharge) {
		status, err := rw.gateway.CheckStatus(ctx, req.PSPReference)
		if err != nil {
			// Skip, the next sweep asks again.
			rw.log.Warn("check status failed",
				zap.Int64("transaction_id", item.ID),
				zap.String("psp_reference", req.PSPReference),
				zap.Error(err),
			)
			stats.Failed++
			continue
		}

		typ, msg := domain.ChargeSuccess, "Confirmed by the provider."
		switch status {
		case payment.StatusSucceeded:
			rw.log.Warn("charge succeeded at the provider but was never recorded",
				zap.Int64("transaction_id", item.ID),
				zap.String("psp_reference", req.PSPReference),
			)
		case payment.StatusDeclined:
			typ, msg = domain.ChargeFailure, "Declined by the provider."
		default:
			// The money may have moved without the provider answering yet.
			if !req.CreatedAt.Before(abandonBefore) {
				rw.log.Info("provider has no record of charge yet",
					zap.Int64("transaction_id", item.ID),
					zap.String("psp_reference", req.PSPReference),
					zap.Time("requested_at", req.CreatedAt),
				)
				stats.Deferred++
				continue
			}
			typ, msg = domain.ChargeFailure, "Abandoned: the provider has no record of the request."
		}

		_, err = rw.reconciler.ReportEvent(ctx, auth.System(), service.ReportEventInput{
			Ref:          item.Ref(),
			Type:         typ,
			PSPReference: req.PSPReference,
			Message:      msg,
		})
		if err != nil {
			rw.log.Error("report settled charge",
				zap.Int64("transaction_id", item.ID),
				zap.String("psp_reference", req.PSPReference),
				zap.Error(err),
			)
			stats.Failed++
			continue
		}
		rw.log.Info("charge settled",
			zap.Int64("transaction_id", item.ID),
			zap.String("psp_reference", req.PSPReference),
			zap.String("type", string(typ)),
		)
		stats.Settled++
	}
}

// openRequests returns the counted requests of a bucket that no success or
// failure with the same psp reference has answered yet.
func openRequests(events []domain.TransactionEvent, bucket domain.Bucket) []domain.TransactionEvent {
	answered := make(map[string]bool)
	for _, ev := range events {
		if !ev.IncludeInCalculations || ev.Type.Bucket() != bucket {
			continue
		}
		if p := ev.Type.Phase(); p == domain.PhaseSuccess || p == domain.PhaseFailure {
			answered[ev.PSPReference] = true
		}
	}

	var open []domain.TransactionEvent
	for _, ev := range events {
		if ev.IncludeInCalculations && ev.Type.Bucket() == bucket && ev.Type.Phase() == domain.PhaseRequest &&
			ev.PSPReference != "" && !answered[ev.PSPReference] {
			open = append(open, ev)
			answered[ev.PSPReference] = true
		}
	}
	return open
}
