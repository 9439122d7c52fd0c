package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"transaction-reconciler/internal/database"
	"transaction-reconciler/internal/http/api"
	"transaction-reconciler/internal/infrastructure/payment"
	"transaction-reconciler/internal/service"
	"transaction-reconciler/internal/worker"
)

var (
	serveAddr       string
	serveWithWorker bool
	serveMigrate    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API.

Examples:
  reconciler serve --addr :8080
  reconciler serve --migrate --worker`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides http.addr)")
	serveCmd.Flags().BoolVar(&serveWithWorker, "worker", false, "also run the reconciliation worker")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply migrations before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if serveMigrate {
		if err := database.Migrate(ctx, a.db.DB(), a.log); err != nil {
			return err
		}
	}
	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	gateway := payment.NewPaymentGateway(a.log)
	charges := service.NewChargeService(a.transactions, gateway, a.log)
	server := api.NewServer(a.transactions, charges, a.db, a.log, api.Options{
		AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
	})

	if serveWithWorker {
		w := worker.NewReconciliationWorker(a.repos.Transactions, a.transactions, gateway, a.cfg.Worker, a.log)
		go w.Run(ctx)
	}

	addr := a.cfg.HTTP.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := server.HTTPServer(addr)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.log.Info("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}
