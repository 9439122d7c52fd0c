package api

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"transaction-reconciler/internal/domain"
	"transaction-reconciler/internal/service"
)

type createTransactionRequest struct {
	OrderID          *uuid.UUID                 `json:"order_id" binding:"required_without=CheckoutID,excluded_with=CheckoutID"`
	CheckoutID       *uuid.UUID                 `json:"checkout_id"`
	Name             string                     `json:"name" binding:"max=512"`
	Currency         string                     `json:"currency" binding:"omitempty,currency"`
	PSPReference     string                     `json:"psp_reference" binding:"max=512"`
	AvailableActions []domain.TransactionAction `json:"available_actions" binding:"omitempty,dive,transaction_action"`
	AmountAuthorized *decimal.Decimal           `json:"amount_authorized"`
	AmountCharged    *decimal.Decimal           `json:"amount_charged"`
	Metadata         json.RawMessage            `json:"metadata"`
}

func (r createTransactionRequest) input() service.CreateTransactionInput {
	in := service.CreateTransactionInput{
		Name:             r.Name,
		Currency:         r.Currency,
		PSPReference:     r.PSPReference,
		AvailableActions: upperActions(r.AvailableActions),
		AmountAuthorized: r.AmountAuthorized,
		AmountCharged:    r.AmountCharged,
		Metadata:         r.Metadata,
	}
	if r.OrderID != nil {
		in.Owner = domain.OrderOwner(*r.OrderID)
	} else {
		in.Owner = domain.CheckoutOwner(*r.CheckoutID)
	}
	return in
}

type reportEventRequest struct {
	Type             domain.TransactionEventType `json:"type" binding:"required,event_type"`
	Amount           *decimal.Decimal            `json:"amount"`
	Currency         string                      `json:"currency" binding:"omitempty,currency"`
	PSPReference     string                      `json:"psp_reference" binding:"required,max=512"`
	Message          string                      `json:"message" binding:"max=512"`
	ExternalURL      string                      `json:"external_url" binding:"omitempty,url"`
	AvailableActions []domain.TransactionAction  `json:"available_actions" binding:"omitempty,dive,transaction_action"`
	Metadata         json.RawMessage             `json:"metadata"`
}

func (r reportEventRequest) input(ref domain.TransactionRef) service.ReportEventInput {
	return service.ReportEventInput{
		Ref:              ref,
		Type:             r.Type,
		Amount:           r.Amount,
		Currency:         r.Currency,
		PSPReference:     r.PSPReference,
		Message:          r.Message,
		ExternalURL:      r.ExternalURL,
		AvailableActions: upperActions(r.AvailableActions),
		Metadata:         r.Metadata,
	}
}

type requestActionRequest struct {
	Action domain.TransactionAction `json:"action" binding:"required,transaction_action"`
	Amount *decimal.Decimal         `json:"amount"`
}

type moneyRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

type grantRefundRequest struct {
	Amount        *decimal.Decimal `json:"amount" binding:"required"`
	Reason        string           `json:"reason" binding:"max=1000"`
	TransactionID string           `json:"transaction_id"`
}

func upperActions(actions []domain.TransactionAction) []domain.TransactionAction {
	if actions == nil {
		return nil
	}
	out := make([]domain.TransactionAction, len(actions))
	for i, a := range actions {
		out[i] = domain.TransactionAction(strings.ToUpper(string(a)))
	}
	return out
}

type ownerResponse struct {
	Type string    `json:"type"`
	ID   uuid.UUID `json:"id"`
}

type transactionResponse struct {
	ID               string                     `json:"id"`
	LegacyID         int64                      `json:"legacy_id"`
	Token            uuid.UUID                  `json:"token"`
	Owner            ownerResponse              `json:"owner"`
	Name             string                     `json:"name"`
	Currency         string                     `json:"currency"`
	PSPReference     string                     `json:"psp_reference"`
	AuthorizedAmount decimal.Decimal            `json:"authorized_amount"`
	ChargedAmount    decimal.Decimal            `json:"charged_amount"`
	RefundedAmount   decimal.Decimal            `json:"refunded_amount"`
	CanceledAmount   decimal.Decimal            `json:"canceled_amount"`
	AuthorizePending decimal.Decimal            `json:"authorize_pending_amount"`
	ChargePending    decimal.Decimal            `json:"charge_pending_amount"`
	RefundPending    decimal.Decimal            `json:"refund_pending_amount"`
	CancelPending    decimal.Decimal            `json:"cancel_pending_amount"`
	AvailableActions []domain.TransactionAction `json:"available_actions"`
	Metadata         json.RawMessage            `json:"metadata,omitempty"`
	CreatedAt        time.Time                  `json:"created_at"`
	ModifiedAt       time.Time                  `json:"modified_at"`
}

func newTransactionResponse(t *domain.TransactionItem) *transactionResponse {
	if t == nil {
		return nil
	}
	actions := t.AvailableActions
	if actions == nil {
		actions = []domain.TransactionAction{}
	}
	return &transactionResponse{
		ID:               t.Ref().GlobalID(),
		LegacyID:         t.ID,
		Token:            t.Token,
		Owner:            ownerResponse{Type: string(t.Owner.Kind), ID: t.Owner.ID},
		Name:             t.Name,
		Currency:         t.Currency,
		PSPReference:     t.PSPReference,
		AuthorizedAmount: t.Totals.Authorized,
		ChargedAmount:    t.Totals.Charged,
		RefundedAmount:   t.Totals.Refunded,
		CanceledAmount:   t.Totals.Canceled,
		AuthorizePending: t.Totals.AuthorizePending,
		ChargePending:    t.Totals.ChargePending,
		RefundPending:    t.Totals.RefundPending,
		CancelPending:    t.Totals.CancelPending,
		AvailableActions: actions,
		Metadata:         t.Metadata,
		CreatedAt:        t.CreatedAt,
		ModifiedAt:       t.ModifiedAt,
	}
}

type eventResponse struct {
	ID                    int64                       `json:"id"`
	Token                 uuid.UUID                   `json:"token"`
	Type                  domain.TransactionEventType `json:"type"`
	Amount                decimal.Decimal             `json:"amount"`
	Currency              string                      `json:"currency"`
	PSPReference          string                      `json:"psp_reference"`
	Message               string                      `json:"message,omitempty"`
	ExternalURL           string                      `json:"external_url,omitempty"`
	IncludeInCalculations bool                        `json:"include_in_calculations"`
	CreatedAt             time.Time                   `json:"created_at"`
}

func newEventResponse(e *domain.TransactionEvent) *eventResponse {
	if e == nil {
		return nil
	}
	return &eventResponse{
		ID:                    e.ID,
		Token:                 e.Token,
		Type:                  e.Type,
		Amount:                e.Amount,
		Currency:              e.Currency,
		PSPReference:          e.PSPReference,
		Message:               e.Message,
		ExternalURL:           e.ExternalURL,
		IncludeInCalculations: e.IncludeInCalculations,
		CreatedAt:             e.CreatedAt,
	}
}

type transactionDetailsResponse struct {
	Transaction *transactionResponse `json:"transaction"`
	Events      []*eventResponse     `json:"events"`
}

type reportEventResponse struct {
	Event            *eventResponse       `json:"event"`
	Transaction      *transactionResponse `json:"transaction"`
	AlreadyProcessed bool                 `json:"already_processed"`
}

type chargeResponse struct {
	PSPReference string               `json:"psp_reference"`
	Outcome      service.Outcome      `json:"outcome"`
	Transaction  *transactionResponse `json:"transaction"`
}

type orderResponse struct {
	ID              uuid.UUID              `json:"id"`
	Email           string                 `json:"email"`
	Status          domain.OrderStatus     `json:"status"`
	Currency        string                 `json:"currency"`
	Total           decimal.Decimal        `json:"total"`
	TotalAuthorized decimal.Decimal        `json:"total_authorized"`
	TotalCharged    decimal.Decimal        `json:"total_charged"`
	TotalRefunded   decimal.Decimal        `json:"total_refunded"`
	AuthorizeStatus domain.AuthorizeStatus `json:"authorize_status"`
	ChargeStatus    domain.ChargeStatus    `json:"charge_status"`
}

func newOrderResponse(o *domain.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		Email:           o.Email,
		Status:          o.Status,
		Currency:        o.Currency,
		Total:           o.TotalGross,
		TotalAuthorized: o.TotalAuthorized,
		TotalCharged:    o.TotalCharged,
		TotalRefunded:   o.TotalRefunded,
		AuthorizeStatus: o.AuthorizeStatus,
		ChargeStatus:    o.ChargeStatus,
	}
}

type grantedRefundResponse struct {
	ID                 uuid.UUID                  `json:"id"`
	Amount             decimal.Decimal            `json:"amount"`
	Currency           string                     `json:"currency"`
	Reason             string                     `json:"reason,omitempty"`
	Status             domain.GrantedRefundStatus `json:"status"`
	TransactionItemID  *int64                     `json:"transaction_item_id,omitempty"`
	TransactionEventID *int64                     `json:"transaction_event_id,omitempty"`
	CreatedAt          time.Time                  `json:"created_at"`
}

func newGrantedRefundResponse(g *domain.OrderGrantedRefund) grantedRefundResponse {
	return grantedRefundResponse{
		ID:                 g.ID,
		Amount:             g.Amount,
		Currency:           g.Currency,
		Reason:             g.Reason,
		Status:             g.Status,
		TransactionItemID:  g.TransactionItemID,
		TransactionEventID: g.TransactionEventID,
		CreatedAt:          g.CreatedAt,
	}
}

type paymentStatusResponse struct {
	Order              orderResponse           `json:"order"`
	Transactions       []*transactionResponse  `json:"transactions"`
	GrantedRefunds     []grantedRefundResponse `json:"granted_refunds"`
	TotalGrantedRefund decimal.Decimal         `json:"total_granted_refund"`
	TotalBalance       decimal.Decimal         `json:"total_balance"`
}

func newPaymentStatusResponse(s *service.OrderPaymentSummary) paymentStatusResponse {
	out := paymentStatusResponse{
		Order:              newOrderResponse(s.Order),
		Transactions:       make([]*transactionResponse, 0, len(s.Transactions)),
		GrantedRefunds:     make([]grantedRefundResponse, 0, len(s.GrantedRefunds)),
		TotalGrantedRefund: s.TotalGrantedRefund,
		TotalBalance:       s.TotalBalance,
	}
	for i := range s.Transactions {
		out.Transactions = append(out.Transactions, newTransactionResponse(&s.Transactions[i]))
	}
	for i := range s.GrantedRefunds {
		out.GrantedRefunds = append(out.GrantedRefunds, newGrantedRefundResponse(&s.GrantedRefunds[i]))
	}
	return out
}
