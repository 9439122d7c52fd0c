package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"transaction-reconciler/internal/apperr"
	"transaction-reconciler/internal/auth"
	"transaction-reconciler/internal/domain"
	"transaction-reconciler/internal/infrastructure/payment"
)

// Outcome is what the provider said about a charge or refund.
type Outcome string

const (
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeDeclined  Outcome = "DECLINED"
	// OutcomePending means the provider did not answer. The request stays
	// pending until the reconciliation worker asks the provider again.
	OutcomePending Outcome = "PENDING"
)

type ChargeInput struct {
	Ref    domain.TransactionRef
	Amount *decimal.Decimal
}

type ChargeResult struct {
	PSPReference string
	Outcome      Outcome
	Transaction  *domain.TransactionItem
}

// ChargeService moves money at the provider and records every step in the event log.
type ChargeService interface {
	Charge(ctx context.Context, actor auth.Actor, in ChargeInput) (*ChargeResult, error)
	Refund(ctx context.Context, actor auth.Actor, in ChargeInput) (*ChargeResult, error)
}

type chargeService struct {
	transactions TransactionService
	paymentGtw   payment.PaymentGateway
	log          *zap.Logger
}

func NewChargeService(
	transactions TransactionService,
	paymentGtw payment.PaymentGateway,
	log *zap.Logger,
) ChargeService {
	return &chargeService{
		transactions: transactions,
		paymentGtw:   paymentGtw,
		log:          log,
	}
}

// capture describes one kind of money movement.
type capture struct {
	prefix  string
	request domain.TransactionEventType
	success domain.TransactionEventType
	failure domain.TransactionEventType
	call    func(ctx context.Context, pspReference string, amount decimal.Decimal) (bool, error)
	amount  func(t domain.Totals) decimal.Decimal
}

func (s *chargeService) Charge(ctx context.Context, actor auth.Actor, in ChargeInput) (*ChargeResult, error) {
	return s.run(ctx, actor, in, capture{
		prefix:  "ch_",
		request: domain.ChargeRequest,
		success: domain.ChargeSuccess,
		failure: domain.ChargeFailure,
		call:    s.paymentGtw.Charge,
		amount:  func(t domain.Totals) decimal.Decimal { return t.Authorized },
	})
}

func (s *chargeService) Refund(ctx context.Context, actor auth.Actor, in ChargeInput) (*ChargeResult, error) {
	return s.run(ctx, actor, in, capture{
		prefix:  "re_",
		request: domain.RefundRequest,
		success: domain.RefundSuccess,
		failure: domain.RefundFailure,
		call:    s.paymentGtw.Refund,
		amount:  func(t domain.Totals) decimal.Decimal { return t.Charged },
	})
}

func (s *chargeService) run(ctx context.Context, actor auth.Actor, in ChargeInput, c capture) (*ChargeResult, error) {
	details, err := s.transactions.GetTransaction(ctx, actor, in.Ref)
	if err != nil {
		return nil, err
	}
	item := details.Transaction

	amount := c.amount(item.Totals)
	if in.Amount != nil {
		amount = *in.Amount
	}
	amount = domain.Quantize(amount, item.Currency)
	if !amount.IsPositive() {
		return nil, apperr.InvalidErr("amount", apperr.CodeInvalid, "Amount must be greater than zero.")
	}

	pspReference := c.prefix + uuid.NewString()
	requested, err := s.transactions.ReportEvent(ctx, actor, ReportEventInput{
		Ref:          item.Ref(),
		Type:         c.request,
		Amount:       &amount,
		PSPReference: pspReference,
	})
	if err != nil {
		return nil, err
	}
	result := &ChargeResult{PSPReference: pspReference, Outcome: OutcomePending, Transaction: requested.Transaction}

	ok, err := c.call(ctx, pspReference, amount)
	switch {
	case err == nil && ok:
		result.Outcome = OutcomeSucceeded
	case errors.Is(err, payment.ErrDeclined) || (err == nil && !ok):
		result.Outcome = OutcomeDeclined
	default:
		// Money may have moved. Leave the request pending for the worker.
		s.log.Warn("provider did not answer, request left pending",
			zap.String("type", string(c.request)),
			zap.Int64("transaction_id", item.ID),
			zap.String("psp_reference", pspReference),
			zap.Error(err),
		)
		return result, nil
	}

	typ, msg := c.success, ""
	if result.Outcome == OutcomeDeclined {
		typ, msg = c.failure, "Declined by the provider."
	}
	// The amount comes from the request reported above.
	reported, err := s.transactions.ReportEvent(ctx, actor, ReportEventInput{
		Ref:          item.Ref(),
		Type:         typ,
		PSPReference: pspReference,
		Message:      msg,
	})
	if err != nil {
		return nil, err
	}
	result.Transaction = reported.Transaction
	return result, nil
}
