package calc

import (
	"github.com/shopspring/decimal"

	"transaction-reconciler/internal/domain"
)

// ChargeStatus maps the charged amount against the total minus granted refunds.
// A zero total is always FULL. Only orders can be OVERCHARGED; checkouts cap at FULL.
// All comparisons are exact.
func ChargeStatus(total, charged, grantedRefunds decimal.Decimal, owner domain.OwnerKind) domain.ChargeStatus {
	if total.IsZero() {
		return domain.ChargeFull
	}
	target := total.Sub(grantedRefunds)
	if target.IsNegative() {
		target = decimal.Zero
	}

	switch {
	case charged.Equal(target):
		return domain.ChargeFull
	case !charged.IsPositive():
		return domain.ChargeNone
	case charged.LessThan(target):
		return domain.ChargePartial
	case owner == domain.OwnerOrder:
		return domain.ChargeOvercharged
	default:
		return domain.ChargeFull
	}
}

// AuthorizeStatus compares authorized plus already charged funds with the total.
// Granted refunds do not participate.
func AuthorizeStatus(total, authorized, charged decimal.Decimal) domain.AuthorizeStatus {
	if total.IsZero() {
		return domain.AuthorizeFull
	}
	covered := authorized.Add(charged)
	switch {
	case !covered.IsPositive():
		return domain.AuthorizeNone
	case covered.GreaterThanOrEqual(total):
		return domain.AuthorizeFull
	default:
		return domain.AuthorizePartial
	}
}

// DerivePaymentState sums item totals into the aggregate view and derives both statuses.
func DerivePaymentState(total decimal.Decimal, items []domain.Totals, grantedRefunds decimal.Decimal, owner domain.OwnerKind) domain.PaymentState {
	ps := domain.PaymentState{
		TotalAuthorized: decimal.Zero,
		TotalCharged:    decimal.Zero,
		TotalRefunded:   decimal.Zero,
	}
	for _, t := range items {
		ps.TotalAuthorized = ps.TotalAuthorized.Add(t.Authorized)
		ps.TotalCharged = ps.TotalCharged.Add(t.Charged)
		ps.TotalRefunded = ps.TotalRefunded.Add(t.Refunded)
	}
	ps.ChargeStatus = ChargeStatus(total, ps.TotalCharged, grantedRefunds, owner)
	ps.AuthorizeStatus = AuthorizeStatus(total, ps.TotalAuthorized, ps.TotalCharged)
	return ps
}
