package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"transaction-reconciler/internal/apperr"
	"transaction-reconciler/internal/auth"
	"transaction-reconciler/internal/calc"
	"transaction-reconciler/internal/domain"
	"transaction-reconciler/internal/infrastructure/notify"
	"transaction-reconciler/internal/repo"
)

type TransactionService interface {
	ReportEvent(ctx context.Context, actor auth.Actor, in ReportEventInput) (*ReportEventResult, error)
	CreateTransaction(ctx context.Context, actor auth.Actor, in CreateTransactionInput) (*domain.TransactionItem, error)
	GetTransaction(ctx context.Context, actor auth.Actor, ref domain.TransactionRef) (*TransactionDetails, error)
	GetOrderPaymentSummary(ctx context.Context, orderID uuid.UUID) (*OrderPaymentSummary, error)
	SearchOrders(ctx context.Context, query string, limit int) ([]domain.Order, error)
	RequestAction(ctx context.Context, actor auth.Actor, in RequestActionInput) (*domain.TransactionEvent, error)
	GrantRefund(ctx context.Context, actor auth.Actor, in GrantRefundInput) (*domain.OrderGrantedRefund, error)
	// RecalculateTransaction rebuilds cached totals from the event log and reports whether anything drifted.
	RecalculateTransaction(ctx context.Context, ref domain.TransactionRef) (bool, error)
}

type ReportEventInput struct {
	Ref          domain.TransactionRef
	Type         domain.TransactionEventType
	Amount       *decimal.Decimal
	Currency     string
	PSPReference string
	Message      string
	ExternalURL  string
	// AvailableActions and Metadata replace the item's values when non-nil.
	AvailableActions []domain.TransactionAction
	Metadata         json.RawMessage
}

type ReportEventResult struct {
	Event            *domain.TransactionEvent
	Transaction      *domain.TransactionItem
	AlreadyProcessed bool
}

type CreateTransactionInput struct {
	Owner            domain.OwnerRef
	Name             string
	Currency         string
	PSPReference     string
	AvailableActions []domain.TransactionAction
	AmountAuthorized *decimal.Decimal
	AmountCharged    *decimal.Decimal
	Metadata         json.RawMessage
}

type RequestActionInput struct {
	Ref    domain.TransactionRef
	Action domain.TransactionAction
	Amount *decimal.Decimal
}

type GrantRefundInput struct {
	OrderID uuid.UUID
	Amount  decimal.Decimal
	Reason  string
	// Transaction optionally names the item expected to carry the refund.
	Transaction *domain.TransactionRef
}

type TransactionDetails struct {
	Transaction *domain.TransactionItem
	Events      []domain.TransactionEvent
}

type OrderPaymentSummary struct {
	Order              *domain.Order
	Transactions       []domain.TransactionItem
	GrantedRefunds     []domain.OrderGrantedRefund
	TotalGrantedRefund decimal.Decimal
	// TotalBalance is what is still owed: total minus granted refunds minus charged.
	TotalBalance decimal.Decimal
}

var errConcurrentReport = errors.New("event reported concurrently")

type transactionService struct {
	db         *sql.DB
	repos      repo.Repos
	perms      auth.PermissionChecker
	dispatcher notify.Dispatcher
	completer  CheckoutCompleter
	log        *zap.Logger
}

func NewTransactionService(
	db *sql.DB,
	repos repo.Repos,
	perms auth.PermissionChecker,
	dispatcher notify.Dispatcher,
	completer CheckoutCompleter,
	log *zap.Logger,
) TransactionService {
	return &transactionService{
		db:         db,
		repos:      repos,
		perms:      perms,
		dispatcher: dispatcher,
		completer:  completer,
		log:        log,
	}
}

func (s *transactionService) canHandle(actor auth.Actor, item *domain.TransactionItem) bool {
	return actor.Owns(item.UserID, item.AppID) || s.perms.HasPermissions(actor, auth.HandlePayments)
}

func notFound(err error, field, msg string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return apperr.NotFoundErr(field, msg)
	}
	return err
}

func (s *transactionService) findTransaction(ctx context.Context, ref domain.TransactionRef) (*domain.TransactionItem, error) {
	item, err := s.repos.Transactions.FindByRef(ctx, nil, ref)
	if err != nil {
		return nil, notFound(err, "id", "Transaction not found.")
	}
	return item, nil
}

func validateActions(actions []domain.TransactionAction) error {
	for _, a := range actions {
		if !a.Valid() {
			return apperr.InvalidErr("available_actions", apperr.CodeInvalid, fmt.Sprintf("Unknown action %q.", a))
		}
	}
	return nil
}

func validateMetadata(raw json.RawMessage) error {
	if raw == nil {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return apperr.InvalidErr("metadata", apperr.CodeInvalid, "Metadata must be a JSON object.")
	}
	return nil
}

// reportOutcome carries what the in-transaction part of ReportEvent decided.
type reportOutcome struct {
	event            *domain.TransactionEvent
	item             *domain.TransactionItem
	alreadyProcessed bool
	rejection        error
	change           paymentChange
}

func (s *transactionService) ReportEvent(ctx context.Context, actor auth.Actor, in ReportEventInput) (*ReportEventResult, error) {
	if !in.Type.Valid() {
		return nil, apperr.InvalidErr("type", apperr.CodeInvalid, fmt.Sprintf("Unknown event type %q.", in.Type))
	}
	in.PSPReference = strings.TrimSpace(in.PSPReference)
	if in.PSPReference == "" {
		return nil, apperr.Required("psp_reference")
	}
	if in.Amount != nil && in.Amount.IsNegative() {
		return nil, apperr.InvalidErr("amount", apperr.CodeInvalid, "Amount cannot be negative.")
	}
	if err := validateActions(in.AvailableActions); err != nil {
		return nil, err
	}
	if err := validateMetadata(in.Metadata); err != nil {
		return nil, err
	}

	item, err := s.findTransaction(ctx, in.Ref)
	if err != nil {
		return nil, err
	}
	if !s.canHandle(actor, item) {
		return nil, apperr.PermissionDeniedErr("You need the HANDLE_PAYMENTS permission or to own the transaction.")
	}
	if in.Currency != "" && domain.NormalizeCurrency(in.Currency) != item.Currency {
		return nil, apperr.CurrencyMismatch(item.Currency, domain.NormalizeCurrency(in.Currency))
	}
	if in.Amount != nil {
		q := domain.Quantize(*in.Amount, item.Currency)
		in.Amount = &q
	}
	// Later lookups go by the primary key so a token and a legacy id behave the same.
	in.Ref = domain.LegacyRef(item.ID)

	var out reportOutcome
	for attempt := 0; ; attempt++ {
		out = reportOutcome{}
		err = repo.WithTx(ctx, s.db, func(tx *sql.Tx) error {
			return s.reportInTx(ctx, tx, actor, in, &out)
		})
		if errors.Is(err, errConcurrentReport) && attempt == 0 {
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	result := &ReportEventResult{Event: out.event, Transaction: out.item, AlreadyProcessed: out.alreadyProcessed}
	if out.rejection != nil {
		s.log.Warn("event report rejected",
			zap.Int64("transaction_id", out.item.ID),
			zap.String("type", string(in.Type)),
			zap.String("psp_reference", in.PSPReference),
			zap.Error(out.rejection),
		)
		return result, out.rejection
	}
	if out.alreadyProcessed {
		return result, nil
	}

	s.log.Info("event reported",
		zap.Int64("transaction_id", out.item.ID),
		zap.String("type", string(out.event.Type)),
		zap.Stringer("amount", out.event.Amount),
		zap.String("psp_reference", in.PSPReference),
	)
	s.afterCommit(ctx, out.change)
	return result, nil
}

func (s *transactionService) reportInTx(ctx context.Context, tx *sql.Tx, actor auth.Actor, in ReportEventInput, out *reportOutcome) error {
	item, err := s.repos.Transactions.LockByRef(ctx, tx, in.Ref)
	if err != nil {
		return notFound(err, "id", "Transaction not found.")
	}
	out.item = item

	key := domain.EventIdempotencyKey(in.PSPReference, in.Type)
	existing, err := s.repos.Events.FindByIdempotencyKey(ctx, tx, item.ID, key)
	switch {
	case err == nil:
		if in.Amount == nil || in.Amount.Equal(existing.Amount) {
			out.event = existing
			out.alreadyProcessed = true
			return nil
		}
		msg := fmt.Sprintf("Event %s with psp reference %s was already reported with amount %s.",
			in.Type, in.PSPReference, existing.Amount.StringFixed(domain.CurrencyPrecision(item.Currency)))
		out.rejection = apperr.IncorrectDetails("psp_reference", msg)
		return s.recordFailure(ctx, tx, actor, item, in, *in.Amount, msg, out)
	case !errors.Is(err, repo.ErrNotFound):
		return err
	}

	history, err := s.repos.Events.ListByTransaction(ctx, tx, item.ID)
	if err != nil {
		return err
	}

	if in.Type == domain.AuthorizationSuccess {
		for _, ev := range history {
			if ev.Type == domain.AuthorizationSuccess && ev.IncludeInCalculations && ev.PSPReference != in.PSPReference {
				amount := decimal.Zero
				if in.Amount != nil {
					amount = *in.Amount
				}
				msg := fmt.Sprintf("Transaction is already authorized under psp reference %s.", ev.PSPReference)
				out.rejection = apperr.AlreadyExists("type", msg)
				return s.recordFailure(ctx, tx, actor, item, in, amount, msg, out)
			}
		}
	}

	amount, err := calc.ResolveAmount(in.Type, in.Amount, in.PSPReference, history)
	if errors.Is(err, calc.ErrAmountRequired) {
		return apperr.AmountRequired()
	}
	if err != nil {
		return err
	}

	ev := &domain.TransactionEvent{
		Token:                 uuid.New(),
		TransactionID:         item.ID,
		Type:                  in.Type,
		Amount:                amount,
		Currency:              item.Currency,
		PSPReference:          in.PSPReference,
		Message:               in.Message,
		ExternalURL:           in.ExternalURL,
		IncludeInCalculations: true,
		IdempotencyKey:        key,
		UserID:                actor.UserID(),
		AppID:                 actor.AppID(),
	}
	if err := s.repos.Events.Create(ctx, tx, ev); err != nil {
		if repo.IsUniqueViolation(err) {
			return errConcurrentReport
		}
		return err
	}
	out.event = ev

	metadataChanged, err := s.applyEvents(ctx, tx, item, append(history, *ev), in.PSPReference, in.AvailableActions, in.Metadata)
	if err != nil {
		return err
	}

	if item.Owner.IsOrder() && (in.Type == domain.RefundSuccess || in.Type == domain.RefundFailure) {
		if err := s.settleGrantedRefund(ctx, tx, item, ev); err != nil {
			return err
		}
	}

	out.change, err = refreshAggregate(ctx, tx, s.repos, item.Owner)
	if err != nil {
		return err
	}
	out.change.metadataChanged = metadataChanged
	return nil
}

// applyEvents recomputes the item's totals from the full log and stores them with
// the reported psp reference, actions and metadata.
func (s *transactionService) applyEvents(
	ctx context.Context,
	tx *sql.Tx,
	item *domain.TransactionItem,
	events []domain.TransactionEvent,
	pspReference string,
	actions []domain.TransactionAction,
	metadata json.RawMessage,
) (bool, error) {
	item.Totals = calc.Aggregate(events)
	if item.PSPReference == "" {
		item.PSPReference = pspReference
	}
	if actions != nil {
		item.AvailableActions = actions
	}
	metadataChanged := false
	if metadata != nil && !jsonEqual(item.Metadata, metadata) {
		item.Metadata = metadata
		metadataChanged = true
	}
	return metadataChanged, s.repos.Transactions.Update(ctx, tx, item)
}

func jsonEqual(a, b json.RawMessage) bool {
	var x, y any
	if json.Unmarshal(a, &x) != nil || json.Unmarshal(b, &y) != nil {
		return bytes.Equal(a, b)
	}
	ax, _ := json.Marshal(x)
	by, _ := json.Marshal(y)
	return bytes.Equal(ax, by)
}

// recordFailure keeps a synthetic failure event for a rejected report. It has no
// idempotency key and never counts towards totals.
func (s *transactionService) recordFailure(
	ctx context.Context,
	tx *sql.Tx,
	actor auth.Actor,
	item *domain.TransactionItem,
	in ReportEventInput,
	amount decimal.Decimal,
	msg string,
	out *reportOutcome,
) error {
	ev := &domain.TransactionEvent{
		Token:         uuid.New(),
		TransactionID: item.ID,
		Type:          in.Type.FailureType(),
		Amount:        amount,
		Currency:      item.Currency,
		PSPReference:  in.PSPReference,
		Message:       msg,
		ExternalURL:   in.ExternalURL,
		UserID:        actor.UserID(),
		AppID:         actor.AppID(),
	}
	if err := s.repos.Events.Create(ctx, tx, ev); err != nil {
		return err
	}
	out.event = ev
	return nil
}

func (s *transactionService) settleGrantedRefund(ctx context.Context, tx *sql.Tx, item *domain.TransactionItem, ev *domain.TransactionEvent) error {
	grant, err := s.repos.GrantedRefunds.FindSettleable(ctx, tx, item.ID, ev.Amount)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	status := domain.GrantedRefundSuccess
	if ev.Type == domain.RefundFailure {
		status = domain.GrantedRefundFailure
	}
	return s.repos.GrantedRefunds.Settle(ctx, tx, grant.ID, status, ev.ID)
}

// afterCommit completes fully paid checkouts and sends notifications. The
// reconciliation is already durable, so failures here are only logged.
func (s *transactionService) afterCommit(ctx context.Context, change paymentChange) {
	if change.next == nil || !change.changed() {
		return
	}
	names := changeNotifications(change)
	s.dispatch(ctx, change.next, names)

	checkout, ok := change.next.(*domain.Checkout)
	if !ok || !containsName(names, notify.CheckoutFullyPaid) || s.completer == nil {
		return
	}
	channel, err := s.repos.Checkouts.FindChannel(ctx, nil, checkout.ChannelID)
	if err != nil {
		s.log.Error("load checkout channel", zap.Stringer("checkout", checkout.Token), zap.Error(err))
		return
	}
	if !channel.AutomaticallyCompleteFullyPaidCheckouts {
		return
	}
	order, created, err := s.completer.Complete(ctx, checkout.Token)
	if err != nil || !created {
		return
	}
	s.dispatch(ctx, order, createdOrderNotifications(order))
}

func (s *transactionService) dispatch(ctx context.Context, aggregate domain.Aggregate, names []notify.Name) {
	triggered := notify.Triggered{}
	for _, name := range names {
		if err := s.dispatcher.Dispatch(ctx, name, aggregate, triggered); err != nil {
			s.log.Error("notification dispatch failed",
				zap.String("name", string(name)),
				zap.Stringer("owner", aggregate.OwnerRef()),
				zap.Error(err),
			)
		}
	}
}

func containsName(names []notify.Name, name notify.Name) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (s *transactionService) CreateTransaction(ctx context.Context, actor auth.Actor, in CreateTransactionInput) (*domain.TransactionItem, error) {
	if !s.perms.HasPermissions(actor, auth.HandlePayments) {
		return nil, apperr.PermissionDeniedErr("You need the HANDLE_PAYMENTS permission.")
	}
	if err := validateActions(in.AvailableActions); err != nil {
		return nil, err
	}
	if err := validateMetadata(in.Metadata); err != nil {
		return nil, err
	}
	if in.AmountAuthorized != nil && in.AmountAuthorized.IsNegative() {
		return nil, apperr.InvalidErr("amount_authorized", apperr.CodeInvalid, "Amount cannot be negative.")
	}
	if in.AmountCharged != nil && in.AmountCharged.IsNegative() {
		return nil, apperr.InvalidErr("amount_charged", apperr.CodeInvalid, "Amount cannot be negative.")
	}
	in.PSPReference = strings.TrimSpace(in.PSPReference)

	var (
		item   *domain.TransactionItem
		change paymentChange
	)
	err := repo.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var ownerCurrency string
		switch in.Owner.Kind {
		case domain.OwnerOrder:
			order, err := s.repos.Orders.FindById(ctx, tx, in.Owner.ID)
			if err != nil {
				return notFound(err, "order_id", "Order not found.")
			}
			ownerCurrency = order.Currency
		case domain.OwnerCheckout:
			checkout, err := s.repos.Checkouts.LockByToken(ctx, tx, in.Owner.ID)
			if err != nil {
				return notFound(err, "checkout_id", "Checkout not found.")
			}
			if checkout.CompletedOrderID.Valid {
				return apperr.InvalidErr("checkout_id", apperr.CodeInvalid, "Checkout is already completed.")
			}
			ownerCurrency = checkout.Currency
			n, err := s.repos.Payments.DeactivateForCheckout(ctx, tx, checkout.Token)
			if err != nil {
				return err
			}
			if n > 0 {
				s.log.Info("legacy payments deactivated", zap.Stringer("checkout", checkout.Token), zap.Int64("count", n))
			}
		default:
			return apperr.Required("owner")
		}

		currency := ownerCurrency
		if in.Currency != "" && domain.NormalizeCurrency(in.Currency) != ownerCurrency {
			return apperr.CurrencyMismatch(ownerCurrency, domain.NormalizeCurrency(in.Currency))
		}

		item = &domain.TransactionItem{
			Token:            uuid.New(),
			Owner:            in.Owner,
			Name:             in.Name,
			Currency:         currency,
			PSPReference:     in.PSPReference,
			AvailableActions: in.AvailableActions,
			UserID:           actor.UserID(),
			AppID:            actor.AppID(),
			Metadata:         in.Metadata,
		}
		if err := s.repos.Transactions.Create(ctx, tx, item); err != nil {
			return err
		}

		// The initial amounts are the resulting totals. A charge consumes the
		// authorization, so the authorization event also covers what was charged.
		authorized := in.AmountAuthorized
		if authorized != nil && authorized.IsPositive() && in.AmountCharged != nil {
			sum := authorized.Add(*in.AmountCharged)
			authorized = &sum
		}

		var events []domain.TransactionEvent
		for _, initial := range []struct {
			typ    domain.TransactionEventType
			amount *decimal.Decimal
		}{
			{domain.AuthorizationSuccess, authorized},
			{domain.ChargeSuccess, in.AmountCharged},
		} {
			if initial.amount == nil || initial.amount.IsZero() {
				continue
			}
			ev := &domain.TransactionEvent{
				Token:                 uuid.New(),
				TransactionID:         item.ID,
				Type:                  initial.typ,
				Amount:                domain.Quantize(*initial.amount, currency),
				Currency:              currency,
				PSPReference:          in.PSPReference,
				Message:               "Initial amount",
				IncludeInCalculations: true,
				IdempotencyKey:        domain.EventIdempotencyKey(in.PSPReference, initial.typ),
				UserID:                actor.UserID(),
				AppID:                 actor.AppID(),
			}
			if err := s.repos.Events.Create(ctx, tx, ev); err != nil {
				return err
			}
			events = append(events, *ev)
		}
		if len(events) > 0 {
			if _, err := s.applyEvents(ctx, tx, item, events, in.PSPReference, nil, nil); err != nil {
				return err
			}
		}

		var err error
		change, err = refreshAggregate(ctx, tx, s.repos, item.Owner)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("transaction created",
		zap.Int64("transaction_id", item.ID),
		zap.Stringer("token", item.Token),
		zap.Stringer("owner", item.Owner),
	)
	s.afterCommit(ctx, change)
	return item, nil
}

func (s *transactionService) GetTransaction(ctx context.Context, actor auth.Actor, ref domain.TransactionRef) (*TransactionDetails, error) {
	item, err := s.findTransaction(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !s.canHandle(actor, item) {
		return nil, apperr.PermissionDeniedErr("You need the HANDLE_PAYMENTS permission or to own the transaction.")
	}
	events, err := s.repos.Events.ListByTransaction(ctx, nil, item.ID)
	if err != nil {
		return nil, err
	}
	return &TransactionDetails{Transaction: item, Events: events}, nil
}

func (s *transactionService) GetOrderPaymentSummary(ctx context.Context, orderID uuid.UUID) (*OrderPaymentSummary, error) {
	order, err := s.repos.Orders.FindById(ctx, nil, orderID)
	if err != nil {
		return nil, notFound(err, "id", "Order not found.")
	}
	items, err := s.repos.Transactions.ListByOwner(ctx, nil, order.OwnerRef())
	if err != nil {
		return nil, err
	}
	grants, err := s.repos.GrantedRefunds.ListByOrder(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}

	granted := decimal.Zero
	for _, g := range grants {
		granted = granted.Add(g.Amount)
	}
	return &OrderPaymentSummary{
		Order:              order,
		Transactions:       items,
		GrantedRefunds:     grants,
		TotalGrantedRefund: granted,
		TotalBalance:       order.TotalGross.Sub(granted).Sub(order.TotalCharged),
	}, nil
}

func (s *transactionService) SearchOrders(ctx context.Context, query string, limit int) ([]domain.Order, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Required("search")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repos.Orders.Search(ctx, query, limit)
}

func (s *transactionService) RequestAction(ctx context.Context, actor auth.Actor, in RequestActionInput) (*domain.TransactionEvent, error) {
	if !s.perms.HasPermissions(actor, auth.HandlePayments) {
		return nil, apperr.PermissionDeniedErr("You need the HANDLE_PAYMENTS permission.")
	}
	if !in.Action.Valid() {
		return nil, apperr.InvalidErr("action", apperr.CodeInvalid, fmt.Sprintf("Unknown action %q.", in.Action))
	}

	var ev *domain.TransactionEvent
	err := repo.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		item, err := s.repos.Transactions.LockByRef(ctx, tx, in.Ref)
		if err != nil {
			return notFound(err, "id", "Transaction not found.")
		}
		if !item.HasAction(in.Action) {
			return apperr.InvalidErr("action", apperr.CodeInvalid,
				fmt.Sprintf("Transaction does not support the %s action.", in.Action))
		}

		amount := defaultActionAmount(item, in.Action)
		if in.Amount != nil {
			amount = *in.Amount
		}
		amount = domain.Quantize(amount, item.Currency)
		if !amount.IsPositive() {
			return apperr.InvalidErr("amount", apperr.CodeInvalid, "Amount must be greater than zero.")
		}

		ev = &domain.TransactionEvent{
			Token:         uuid.New(),
			TransactionID: item.ID,
			Type:          in.Action.RequestType(),
			Amount:        amount,
			Currency:      item.Currency,
			Message:       "Requested " + strings.ToLower(string(in.Action)),
			UserID:        actor.UserID(),
			AppID:         actor.AppID(),
		}
		return s.repos.Events.Create(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("transaction action requested",
		zap.Int64("transaction_id", ev.TransactionID),
		zap.String("action", string(in.Action)),
		zap.Stringer("amount", ev.Amount),
	)
	return ev, nil
}

// defaultActionAmount is what an action applies to when no amount is given.
func defaultActionAmount(item *domain.TransactionItem, action domain.TransactionAction) decimal.Decimal {
	switch action {
	case domain.ActionRefund:
		return item.Totals.Charged
	default:
		return item.Totals.Authorized
	}
}

func (s *transactionService) GrantRefund(ctx context.Context, actor auth.Actor, in GrantRefundInput) (*domain.OrderGrantedRefund, error) {
	if !s.perms.HasPermissions(actor, auth.ManageOrders) {
		return nil, apperr.PermissionDeniedErr("You need the MANAGE_ORDERS permission.")
	}

	var (
		grant  *domain.OrderGrantedRefund
		change paymentChange
	)
	err := repo.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		order, err := s.repos.Orders.LockById(ctx, tx, in.OrderID)
		if err != nil {
			return notFound(err, "order_id", "Order not found.")
		}
		amount := domain.Quantize(in.Amount, order.Currency)
		if !amount.IsPositive() {
			return apperr.InvalidErr("amount", apperr.CodeInvalid, "Amount must be greater than zero.")
		}

		grant = &domain.OrderGrantedRefund{
			ID:       uuid.New(),
			OrderID:  order.ID,
			Amount:   amount,
			Currency: order.Currency,
			Reason:   in.Reason,
			Status:   domain.GrantedRefundNone,
			UserID:   actor.UserID(),
			AppID:    actor.AppID(),
		}
		if in.Transaction != nil {
			item, err := s.repos.Transactions.FindByRef(ctx, tx, *in.Transaction)
			if err != nil {
				return notFound(err, "transaction_id", "Transaction not found.")
			}
			if item.Owner != order.OwnerRef() {
				return apperr.InvalidErr("transaction_id", apperr.CodeInvalid, "Transaction does not belong to the order.")
			}
			grant.TransactionItemID = &item.ID
		}
		if err := s.repos.GrantedRefunds.Create(ctx, tx, grant); err != nil {
			return err
		}

		change, err = refreshAggregate(ctx, tx, s.repos, order.OwnerRef())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("refund granted",
		zap.Stringer("order", grant.OrderID),
		zap.Stringer("amount", grant.Amount),
	)
	s.afterCommit(ctx, change)
	return grant, nil
}

func (s *transactionService) RecalculateTransaction(ctx context.Context, ref domain.TransactionRef) (bool, error) {
	var (
		itemDrift bool
		change    paymentChange
	)
	err := repo.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		item, err := s.repos.Transactions.LockByRef(ctx, tx, ref)
		if err != nil {
			return notFound(err, "id", "Transaction not found.")
		}
		events, err := s.repos.Events.ListByTransaction(ctx, tx, item.ID)
		if err != nil {
			return err
		}
		if totals := calc.Aggregate(events); !totals.Equal(item.Totals) {
			itemDrift = true
			s.log.Warn("transaction totals drifted from event log",
				zap.Int64("transaction_id", item.ID),
				zap.Stringer("cached_charged", item.Totals.Charged),
				zap.Stringer("log_charged", totals.Charged),
			)
			if _, err := s.applyEvents(ctx, tx, item, events, "", nil, nil); err != nil {
				return err
			}
		}

		change, err = refreshAggregate(ctx, tx, s.repos, item.Owner)
		return err
	})
	if err != nil {
		return false, err
	}

	s.afterCommit(ctx, change)
	return itemDrift || change.changed(), nil
}
