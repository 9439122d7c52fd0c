package calc

import (
	"errors"

	"github.com/shopspring/decimal"

	"transaction-reconciler/internal/domain"
)

var ErrAmountRequired = errors.New("amount required")

// ResolveAmount returns the amount to record for a reported event. A supplied amount
// always wins. INFO defaults to zero. Success and failure reports without an amount
// reuse the latest request of the same action, preferring one with the same psp
// reference. history must be in creation order.
func ResolveAmount(
	typ domain.TransactionEventType,
	supplied *decimal.Decimal,
	pspReference string,
	history []domain.TransactionEvent,
) (decimal.Decimal, error) {
	if supplied != nil {
		return *supplied, nil
	}
	if typ == domain.Info {
		return decimal.Zero, nil
	}
	if !typ.AmountOptional() {
		return decimal.Zero, ErrAmountRequired
	}

	reqType := typ.RequestType()
	var fallback *domain.TransactionEvent
	for i := len(history) - 1; i >= 0; i-- {
		ev := &history[i]
		if ev.Type != reqType {
			continue
		}
		if pspReference != "" && ev.PSPReference == pspReference {
			return ev.Amount, nil
		}
		if fallback == nil {
			fallback = ev
		}
	}
	if fallback != nil {
		return fallback.Amount, nil
	}
	return decimal.Zero, ErrAmountRequired
}
