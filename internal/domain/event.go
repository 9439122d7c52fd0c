package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionEventType string

const (
	AuthorizationRequest    TransactionEventType = "AUTHORIZATION_REQUEST"
	AuthorizationSuccess    TransactionEventType = "AUTHORIZATION_SUCCESS"
	AuthorizationFailure    TransactionEventType = "AUTHORIZATION_FAILURE"
	AuthorizationAdjustment TransactionEventType = "AUTHORIZATION_ADJUSTMENT"
	ChargeRequest           TransactionEventType = "CHARGE_REQUEST"
	ChargeSuccess           TransactionEventType = "CHARGE_SUCCESS"
	ChargeFailure           TransactionEventType = "CHARGE_FAILURE"
	RefundRequest           TransactionEventType = "REFUND_REQUEST"
	RefundSuccess           TransactionEventType = "REFUND_SUCCESS"
	RefundFailure           TransactionEventType = "REFUND_FAILURE"
	RefundReverse           TransactionEventType = "REFUND_REVERSE"
	CancelRequest           TransactionEventType = "CANCEL_REQUEST"
	CancelSuccess           TransactionEventType = "CANCEL_SUCCESS"
	CancelFailure           TransactionEventType = "CANCEL_FAILURE"
	Info                    TransactionEventType = "INFO"
)

// EventTypes lists every valid event type.
var EventTypes = []TransactionEventType{
	AuthorizationRequest, AuthorizationSuccess, AuthorizationFailure, AuthorizationAdjustment,
	ChargeRequest, ChargeSuccess, ChargeFailure,
	RefundRequest, RefundSuccess, RefundFailure, RefundReverse,
	CancelRequest, CancelSuccess, CancelFailure,
	Info,
}

// Bucket is the money category an event type contributes to.
type Bucket string

const (
	BucketNone      Bucket = ""
	BucketAuthorize Bucket = "authorize"
	BucketCharge    Bucket = "charge"
	BucketRefund    Bucket = "refund"
	BucketCancel    Bucket = "cancel"
)

// Phase is the lifecycle stage an event type reports.
type Phase string

const (
	PhaseRequest    Phase = "request"
	PhaseSuccess    Phase = "success"
	PhaseFailure    Phase = "failure"
	PhaseAdjustment Phase = "adjustment"
	PhaseReverse    Phase = "reverse"
	PhaseInfo       Phase = "info"
)

type eventTypeInfo struct {
	bucket Bucket
	phase  Phase
}

var eventTypeTable = map[TransactionEventType]eventTypeInfo{
	AuthorizationRequest:    {BucketAuthorize, PhaseRequest},
	AuthorizationSuccess:    {BucketAuthorize, PhaseSuccess},
	AuthorizationFailure:    {BucketAuthorize, PhaseFailure},
	AuthorizationAdjustment: {BucketAuthorize, PhaseAdjustment},
	ChargeRequest:           {BucketCharge, PhaseRequest},
	ChargeSuccess:           {BucketCharge, PhaseSuccess},
	ChargeFailure:           {BucketCharge, PhaseFailure},
	RefundRequest:           {BucketRefund, PhaseRequest},
	RefundSuccess:           {BucketRefund, PhaseSuccess},
	RefundFailure:           {BucketRefund, PhaseFailure},
	RefundReverse:           {BucketRefund, PhaseReverse},
	CancelRequest:           {BucketCancel, PhaseRequest},
	CancelSuccess:           {BucketCancel, PhaseSuccess},
	CancelFailure:           {BucketCancel, PhaseFailure},
	Info:                    {BucketNone, PhaseInfo},
}

func (t TransactionEventType) Valid() bool {
	_, ok := eventTypeTable[t]
	return ok
}

func (t TransactionEventType) Bucket() Bucket { return eventTypeTable[t].bucket }
func (t TransactionEventType) Phase() Phase   { return eventTypeTable[t].phase }

// AmountOptional reports whether a report of this type may omit its amount.
func (t TransactionEventType) AmountOptional() bool {
	switch t.Phase() {
	case PhaseSuccess, PhaseFailure, PhaseInfo:
		return true
	}
	return false
}

// RequestType returns the *_REQUEST type of the same bucket, or "" when there is none.
func (t TransactionEventType) RequestType() TransactionEventType {
	return typeFor(t.Bucket(), PhaseRequest)
}

// FailureType returns the *_FAILURE type of the same bucket. INFO maps to itself.
func (t TransactionEventType) FailureType() TransactionEventType {
	if t.Bucket() == BucketNone {
		return Info
	}
	return typeFor(t.Bucket(), PhaseFailure)
}

func typeFor(b Bucket, p Phase) TransactionEventType {
	for typ, info := range eventTypeTable {
		if info.bucket == b && info.phase == p {
			return typ
		}
	}
	return ""
}

// TransactionEvent is one immutable entry of a transaction's event log.
type TransactionEvent struct {
	ID                    int64
	Token                 uuid.UUID
	TransactionID         int64
	Type                  TransactionEventType
	Amount                decimal.Decimal
	Currency              string
	PSPReference          string
	Message               string
	ExternalURL           string
	IncludeInCalculations bool
	// IdempotencyKey is empty for synthetic events.
	IdempotencyKey string
	UserID         uuid.NullUUID
	AppID          uuid.NullUUID
	Metadata       json.RawMessage
	CreatedAt      time.Time
}

// EventIdempotencyKey builds the (psp_reference, type) key reported events are unique on.
func EventIdempotencyKey(pspReference string, typ TransactionEventType) string {
	if pspReference == "" {
		return ""
	}
	return pspReference + ":" + string(typ)
}
