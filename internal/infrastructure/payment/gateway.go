package payment

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrDeclined = errors.New("card declined")
	ErrTimeout  = errors.New("connection timeout")
)

// Status is the provider-side truth about one psp reference.
type Status string

const (
	StatusUnknown   Status = "UNKNOWN"
	StatusSucceeded Status = "SUCCEEDED"
	StatusDeclined  Status = "DECLINED"
)

// PaymentGateway talks to the payment provider. Calls are idempotent per psp reference:
// repeating one returns the recorded outcome without moving money again.
type PaymentGateway interface {
	Charge(ctx context.Context, pspReference string, amount decimal.Decimal) (bool, error)
	Refund(ctx context.Context, pspReference string, amount decimal.Decimal) (bool, error)
	CheckStatus(ctx context.Context, pspReference string) (Status, error)
}

// Odds are the percentages of calls that succeed or get declined. The rest
// time out after the provider has already moved the money.
type Odds struct {
	Success int
	Decline int
}

var DefaultOdds = Odds{Success: 70, Decline: 20}

type Option func(*paymentGateway)

// WithOdds overrides the outcome distribution.
func WithOdds(o Odds) Option {
	return func(pg *paymentGateway) { pg.odds = o }
}

// WithLatency sets how long a normal call and a timed out call take.
func WithLatency(normal, timeout time.Duration) Option {
	return func(pg *paymentGateway) {
		pg.latency = normal
		pg.timeoutAfter = timeout
	}
}

func WithRoll(roll func() int) Option {
	return func(pg *paymentGateway) { pg.roll = roll }
}

type paymentGateway struct {
	mu           sync.RWMutex
	outcomes     map[string]Status
	odds         Odds
	latency      time.Duration
	timeoutAfter time.Duration
	roll         func() int
	log          *zap.Logger
}

// NewPaymentGateway returns an in-memory provider simulator.
func NewPaymentGateway(log *zap.Logger, opts ...Option) PaymentGateway {
	pg := &paymentGateway{
		outcomes:     make(map[string]Status),
		odds:         DefaultOdds,
		latency:      100 * time.Millisecond,
		timeoutAfter: 2 * time.Second,
		roll:         func() int { return rand.IntN(100) },
		log:          log,
	}
	for _, opt := range opts {
		opt(pg)
	}
	return pg
}

func (pg *paymentGateway) Charge(ctx context.Context, pspReference string, amount decimal.Decimal) (bool, error) {
	return pg.move(ctx, "charge", pspReference, amount)
}

func (pg *paymentGateway) Refund(ctx context.Context, pspReference string, amount decimal.Decimal) (bool, error) {
	return pg.move(ctx, "refund", pspReference, amount)
}

func (pg *paymentGateway) move(ctx context.Context, op, pspReference string, amount decimal.Decimal) (bool, error) {
	pg.mu.RLock()
	if status, exists := pg.outcomes[pspReference]; exists {
		pg.mu.RUnlock()
		return status == StatusSucceeded, nil
	}
	pg.mu.RUnlock()

	chance := pg.roll()

	switch {
	case chance < pg.odds.Success:
		if err := sleep(ctx, pg.latency); err != nil {
			return false, err
		}
		pg.record(pspReference, StatusSucceeded)
		return true, nil

	case chance < pg.odds.Success+pg.odds.Decline:
		if err := sleep(ctx, pg.latency); err != nil {
			return false, err
		}
		pg.record(pspReference, StatusDeclined)
		return false, ErrDeclined

	default:
		// The provider moves the money but the caller only sees a timeout.
		pg.record(pspReference, StatusSucceeded)
		pg.log.Warn("provider moved money but the response was lost",
			zap.String("op", op),
			zap.String("psp_reference", pspReference),
			zap.Stringer("amount", amount),
		)
		if err := sleep(ctx, pg.timeoutAfter); err != nil {
			return false, err
		}
		return false, ErrTimeout
	}
}

func (pg *paymentGateway) record(pspReference string, status Status) {
	pg.mu.Lock()
	pg.outcomes[pspReference] = status
	pg.mu.Unlock()
}

func (pg *paymentGateway) CheckStatus(ctx context.Context, pspReference string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return StatusUnknown, err
	}
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	if status, exists := pg.outcomes[pspReference]; exists {
		return status, nil
	}
	return StatusUnknown, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
