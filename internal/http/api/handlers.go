package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"transaction-reconciler/internal/apperr"
	"transaction-reconciler/internal/domain"
	"transaction-reconciler/internal/http/middleware"
	"transaction-reconciler/internal/service"
)

func transactionRef(c *gin.Context) (domain.TransactionRef, bool) {
	ref, err := domain.ParseTransactionRef(c.Param("ref"))
	if err != nil {
		middleware.Fail(c, apperr.InvalidErr("id", apperr.CodeInvalid, "Malformed transaction id."))
		return domain.TransactionRef{}, false
	}
	return ref, true
}

func orderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		middleware.Fail(c, apperr.InvalidErr("id", apperr.CodeInvalid, "Malformed order id."))
		return uuid.Nil, false
	}
	return id, true
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		middleware.Fail(c, middleware.BindError(err))
		return false
	}
	return true
}

func (s *Server) handleCreateTransaction(c *gin.Context) {
	var req createTransactionRequest
	if !bind(c, &req) {
		return
	}
	item, err := s.transactions.CreateTransaction(c.Request.Context(), middleware.GetActor(c), req.input())
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newTransactionResponse(item))
}

func (s *Server) handleGetTransaction(c *gin.Context) {
	ref, ok := transactionRef(c)
	if !ok {
		return
	}
	details, err := s.transactions.GetTransaction(c.Request.Context(), middleware.GetActor(c), ref)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	out := transactionDetailsResponse{
		Transaction: newTransactionResponse(details.Transaction),
		Events:      make([]*eventResponse, 0, len(details.Events)),
	}
	for i := range details.Events {
		out.Events = append(out.Events, newEventResponse(&details.Events[i]))
	}
	c.JSON(http.StatusOK, out)
}

// handleReportEvent answers a rejected report with the error and the failure event it left behind.
func (s *Server) handleReportEvent(c *gin.Context) {
	ref, ok := transactionRef(c)
	if !ok {
		return
	}
	var req reportEventRequest
	if !bind(c, &req) {
		return
	}
	res, err := s.transactions.ReportEvent(c.Request.Context(), middleware.GetActor(c), req.input(ref))
	if err != nil && res == nil {
		middleware.Fail(c, err)
		return
	}

	body := gin.H{
		"event":             newEventResponse(res.Event),
		"transaction":       newTransactionResponse(res.Transaction),
		"already_processed": res.AlreadyProcessed,
	}
	if err != nil {
		status, errs := middleware.Errors(err)
		body["errors"] = errs
		_ = c.Error(err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, reportEventResponse{
		Event:            newEventResponse(res.Event),
		Transaction:      newTransactionResponse(res.Transaction),
		AlreadyProcessed: res.AlreadyProcessed,
	})
}

func (s *Server) handleRequestAction(c *gin.Context) {
	ref, ok := transactionRef(c)
	if !ok {
		return
	}
	var req requestActionRequest
	if !bind(c, &req) {
		return
	}
	ev, err := s.transactions.RequestAction(c.Request.Context(), middleware.GetActor(c), service.RequestActionInput{
		Ref:    ref,
		Action: domain.TransactionAction(strings.ToUpper(string(req.Action))),
		Amount: req.Amount,
	})
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, newEventResponse(ev))
}

func (s *Server) handleCharge(c *gin.Context) {
	s.moveMoney(c, s.charges.Charge)
}

func (s *Server) handleRefund(c *gin.Context) {
	s.moveMoney(c, s.charges.Refund)
}

func (s *Server) moveMoney(c *gin.Context, move chargeFunc) {
	ref, ok := transactionRef(c)
	if !ok {
		return
	}
	var req moneyRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	res, err := move(c.Request.Context(), middleware.GetActor(c), service.ChargeInput{Ref: ref, Amount: req.Amount})
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == service.OutcomePending {
		status = http.StatusAccepted
	}
	c.JSON(status, chargeResponse{
		PSPReference: res.PSPReference,
		Outcome:      res.Outcome,
		Transaction:  newTransactionResponse(res.Transaction),
	})
}

func (s *Server) handlePaymentStatus(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	summary, err := s.transactions.GetOrderPaymentSummary(c.Request.Context(), id)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaymentStatusResponse(summary))
}

func (s *Server) handleGrantRefund(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req grantRefundRequest
	if !bind(c, &req) {
		return
	}
	in := service.GrantRefundInput{OrderID: id, Amount: *req.Amount, Reason: req.Reason}
	if req.TransactionID != "" {
		ref, err := domain.ParseTransactionRef(req.TransactionID)
		if err != nil {
			middleware.Fail(c, apperr.InvalidErr("transaction_id", apperr.CodeInvalid, "Malformed transaction id."))
			return
		}
		in.Transaction = &ref
	}
	grant, err := s.transactions.GrantRefund(c.Request.Context(), middleware.GetActor(c), in)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newGrantedRefundResponse(grant))
}

func (s *Server) handleSearchOrders(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			middleware.Fail(c, apperr.InvalidErr("limit", apperr.CodeInvalid, "Must be a number."))
			return
		}
		limit = n
	}
	orders, err := s.transactions.SearchOrders(c.Request.Context(), c.Query("search"), limit)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, newOrderResponse(&orders[i]))
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (s *Server) handleHealth(c *gin.Context) {
	health := s.db.Health(c.Request.Context())
	status := http.StatusOK
	if health["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}
