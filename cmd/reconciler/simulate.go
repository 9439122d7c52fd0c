package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"transaction-reconciler/internal/auth"
	"transaction-reconciler/internal/config"
	"transaction-reconciler/internal/database"
	"transaction-reconciler/internal/domain"
	"transaction-reconciler/internal/infrastructure/payment"
	"transaction-reconciler/internal/service"
	"transaction-reconciler/internal/worker"
)

var (
	simulateOrders  int
	simulateTimeout time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run orders through a flaky provider and let the worker clean up",
	Long: `Create orders, charge them through a simulated provider that sometimes
moves the money but loses the response, redeliver the provider's webhooks,
then run a reconciliation sweep and print what it fixed.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().IntVarP(&simulateOrders, "orders", "n", 20, "number of orders")
	simulateCmd.Flags().DurationVar(&simulateTimeout, "provider-timeout", 500*time.Millisecond, "how long a lost provider response takes")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := database.Migrate(ctx, a.db.DB(), a.log); err != nil {
		return err
	}

	channel := &domain.Channel{ID: uuid.New(), Slug: "sim-" + uuid.NewString()[:8], Currency: "USD"}
	if err := a.repos.Checkouts.CreateChannel(ctx, nil, channel); err != nil {
		return err
	}

	gateway := payment.NewPaymentGateway(a.log, payment.WithLatency(20*time.Millisecond, simulateTimeout))
	charges := service.NewChargeService(a.transactions, gateway, a.log)
	psp := auth.App(uuid.New(), auth.HandlePayments)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "--- STARTING SIMULATION (%d ORDERS) ---\n", simulateOrders)

	var orders []uuid.UUID
	for i := 0; i < simulateOrders; i++ {
		order, item, err := createPaidOrder(ctx, a, psp, channel)
		if err != nil {
			a.log.Error("create order failed", zap.Error(err))
			continue
		}
		orders = append(orders, order.ID)

		fmt.Fprintf(out, "[%d] Charging order %s (%s) ... ", i+1, order.ID, order.TotalGross.StringFixed(2))
		res, err := charges.Charge(ctx, psp, service.ChargeInput{Ref: item.Ref()})
		if err != nil {
			fmt.Fprintf(out, "ERROR: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "%s\n", res.Outcome)

		// Providers redeliver webhooks. The second delivery must change nothing.
		if res.Outcome == service.OutcomeSucceeded {
			redelivered, err := a.transactions.ReportEvent(ctx, psp, service.ReportEventInput{
				Ref:          item.Ref(),
				Type:         domain.ChargeSuccess,
				PSPReference: res.PSPReference,
			})
			if err == nil {
				fmt.Fprintf(out, "    -> webhook redelivered, already processed: %t\n", redelivered.AlreadyProcessed)
			}
		}

		fresh, err := a.repos.Orders.FindById(ctx, nil, order.ID)
		if err == nil {
			fmt.Fprintf(out, "    -> charge status: %s, charged %s\n", fresh.ChargeStatus, fresh.TotalCharged.StringFixed(2))
		}
		fmt.Fprintln(out, "---------------------------------------------------")
	}

	// Every open request is now considered stuck.
	w := worker.NewReconciliationWorker(a.repos.Transactions, a.transactions, gateway, config.WorkerConfig{
		Interval:     time.Second,
		StuckAfter:   -time.Second,
		AbandonAfter: -time.Second,
		BatchSize:    simulateOrders * 2,
	}, a.log)
	stats, err := w.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "--- RECONCILIATION: settled=%d deferred=%d failed=%d repaired=%d ---\n",
		stats.Settled, stats.Deferred, stats.Failed, stats.Repaired)

	for _, id := range orders {
		o, err := a.repos.Orders.FindById(ctx, nil, id)
		if err != nil {
			continue
		}
		fmt.Fprintf(out, "%s  %-11s charged %s of %s\n", o.ID, o.ChargeStatus, o.TotalCharged.StringFixed(2), o.TotalGross.StringFixed(2))
	}
	return nil
}

// createPaidOrder creates an order with a random total and an item authorized for all of it.
func createPaidOrder(ctx context.Context, a *app, actor auth.Actor, channel *domain.Channel) (*domain.Order, *domain.TransactionItem, error) {
	order := &domain.Order{
		ID:         uuid.New(),
		ChannelID:  channel.ID,
		Email:      "buyer-" + uuid.NewString()[:8] + "@example.com",
		Status:     domain.OrderUnconfirmed,
		Currency:   channel.Currency,
		TotalGross: decimal.NewFromFloat(rand.Float64() * 10000).Round(2),
		PaymentState: domain.PaymentState{
			AuthorizeStatus: domain.AuthorizeNone,
			ChargeStatus:    domain.ChargeNone,
		},
	}
	if err := a.repos.Orders.CreateOrder(ctx, nil, order); err != nil {
		return nil, nil, err
	}

	item, err := a.transactions.CreateTransaction(ctx, actor, service.CreateTransactionInput{
		Owner:            order.OwnerRef(),
		Name:             "Simulated card",
		PSPReference:     "auth_" + uuid.NewString(),
		AvailableActions: []domain.TransactionAction{domain.ActionCharge, domain.ActionRefund},
		AmountAuthorized: &order.TotalGross,
	})
	if err != nil {
		return nil, nil, err
	}
	return order, item, nil
}
