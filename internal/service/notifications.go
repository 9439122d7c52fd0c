package service

import (
	"transaction-reconciler/internal/domain"
	"transaction-reconciler/internal/infrastructure/notify"
)

// paymentNotifications lists the milestones crossed between two snapshots of the
// same aggregate. Only transitions count, so replaying a state sends nothing.
func paymentNotifications(prev, next domain.Aggregate) []notify.Name {
	before, after := prev.Payment(), next.Payment()
	var names []notify.Name

	if next.OwnerRef().IsCheckout() {
		if before.AuthorizeStatus != domain.AuthorizeFull && after.AuthorizeStatus == domain.AuthorizeFull {
			names = append(names, notify.CheckoutFullyPaid)
		}
		return names
	}

	if !before.Equal(after) {
		names = append(names, notify.OrderUpdated)
	}
	if after.TotalCharged.GreaterThan(before.TotalCharged) {
		names = append(names, notify.OrderPaid)
	}
	if !before.ChargeStatus.Covered() && after.ChargeStatus.Covered() {
		names = append(names, notify.OrderFullyPaid)
	}
	if after.TotalRefunded.GreaterThan(before.TotalRefunded) {
		names = append(names, notify.OrderRefunded)
	}
	total := next.Total().Amount
	if total.IsPositive() && before.TotalRefunded.LessThan(total) && after.TotalRefunded.GreaterThanOrEqual(total) {
		names = append(names, notify.OrderFullyRefunded)
	}
	return names
}

// changeNotifications adds the metadata notification to the payment milestones.
func changeNotifications(c paymentChange) []notify.Name {
	names := paymentNotifications(c.prev, c.next)
	if c.metadataChanged {
		names = append(names, notify.TransactionItemMetadataUpdated)
	}
	return names
}

// createdOrderNotifications is sent for an order created from a paid checkout.
// Its payment state is compared with an order that has seen no money at all.
func createdOrderNotifications(order *domain.Order) []notify.Name {
	blank := *order
	blank.SetPayment(domain.PaymentState{
		AuthorizeStatus: domain.AuthorizeNone,
		ChargeStatus:    domain.ChargeNone,
	})
	return append([]notify.Name{notify.OrderCreated}, paymentNotifications(&blank, order)...)
}
