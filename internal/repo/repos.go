package repo

import "database/sql"

// Repos bundles every repository over one pool.
type Repos struct {
	Transactions   TransactionRepo
	Events         EventRepo
	Orders         OrderRepo
	Checkouts      CheckoutRepo
	Payments       PaymentRepo
	GrantedRefunds GrantedRefundRepo
}

func NewRepos(db *sql.DB) Repos {
	return Repos{
		Transactions:   NewTransactionRepo(db),
		Events:         NewEventRepo(db),
		Orders:         NewOrderRepo(db),
		Checkouts:      NewCheckoutRepo(db),
		Payments:       NewPaymentRepo(db),
		GrantedRefunds: NewGrantedRefundRepo(db),
	}
}
