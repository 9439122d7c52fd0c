package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"transaction-reconciler/internal/auth"
	"transaction-reconciler/internal/http/middleware"
	"transaction-reconciler/internal/service"
)

// HealthChecker reports the state of the backing store.
type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

type chargeFunc func(ctx context.Context, actor auth.Actor, in service.ChargeInput) (*service.ChargeResult, error)

type Options struct {
	AllowedOrigins []string
	Resolver       auth.ActorResolver
}

// Server is the HTTP surface of the reconciler.
type Server struct {
	transactions service.TransactionService
	charges      service.ChargeService
	db           HealthChecker
	router       *gin.Engine
	log          *zap.Logger
}

func NewServer(
	transactions service.TransactionService,
	charges service.ChargeService,
	db HealthChecker,
	log *zap.Logger,
	opts Options,
) *Server {
	RegisterValidators()
	if opts.Resolver == nil {
		opts.Resolver = auth.HeaderResolver{}
	}

	router := gin.New()
	// Global ids are base64 and may carry an escaped "/".
	router.UseRawPath = true
	router.Use(
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.ErrorHandler(log),
		middleware.Recovery(log),
		cors.New(corsConfig(opts.AllowedOrigins)),
	)

	s := &Server{
		transactions: transactions,
		charges:      charges,
		db:           db,
		router:       router,
		log:          log,
	}

	router.GET("/healthz", s.handleHealth)

	api := router.Group("/", middleware.Actor(opts.Resolver))
	{
		api.POST("/transactions", s.handleCreateTransaction)
		api.GET("/transactions/:ref", s.handleGetTransaction)
		api.POST("/transactions/:ref/events", s.handleReportEvent)
		api.POST("/transactions/:ref/actions", s.handleRequestAction)
		api.POST("/transactions/:ref/charge", s.handleCharge)
		api.POST("/transactions/:ref/refund", s.handleRefund)
		api.GET("/orders", s.handleSearchOrders)
		api.GET("/orders/:id/payment-status", s.handlePaymentStatus)
		api.POST("/orders/:id/granted-refunds", s.handleGrantRefund)
	}

	return s
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", auth.HeaderUserID, auth.HeaderAppID, auth.HeaderPermissions, middleware.HeaderRequestID},
		ExposeHeaders: []string{middleware.HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func (s *Server) Handler() http.Handler { return s.router }

// HTTPServer wraps the router with the timeouts used in production.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}
}
