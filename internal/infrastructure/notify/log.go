package notify

import (
	"context"

	"go.uber.org/zap"

	"transaction-reconciler/internal/domain"
)

// Log writes notifications to the service log. Used when Kafka is disabled.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Dispatch(_ context.Context, name Name, aggregate domain.Aggregate, triggered Triggered) error {
	if triggered.Has(name) {
		return nil
	}
	ps := aggregate.Payment()
	l.log.Info("notification",
		zap.String("name", string(name)),
		zap.Stringer("owner", aggregate.OwnerRef()),
		zap.String("charge_status", string(ps.ChargeStatus)),
		zap.String("authorize_status", string(ps.AuthorizeStatus)),
		zap.Stringer("total_charged", ps.TotalCharged),
	)
	triggered.Add(name)
	return nil
}
