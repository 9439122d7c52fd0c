package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	Invalid          Kind = "invalid"
	NotFound         Kind = "not_found"
	PermissionDenied Kind = "permission_denied"
	Conflict         Kind = "conflict"
	Internal         Kind = "internal"
)

// Code is the machine-readable reason reported next to a field.
type Code string

const (
	CodeRequired         Code = "REQUIRED"
	CodeInvalid          Code = "INVALID"
	CodeNotFound         Code = "NOT_FOUND"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeIncorrectDetails Code = "INCORRECT_DETAILS"
	CodeAlreadyExists    Code = "ALREADY_EXISTS"
	CodeAmountRequired   Code = "AMOUNT_REQUIRED"
	CodeCurrencyMismatch Code = "CURRENCY_MISMATCH"
)

type AppError struct {
	Kind      Kind
	Code      Code
	Field     string
	PublicMsg string
	Err       error
}

func (e *AppError) Error() string {
	msg := string(e.Kind)
	if e.Code != "" {
		msg = string(e.Code)
	}
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.PublicMsg != "" {
		msg += ": " + e.PublicMsg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches on Kind and Code so sentinel values work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

func InvalidErr(field string, code Code, publicMsg string) *AppError {
	return &AppError{Kind: Invalid, Code: code, Field: field, PublicMsg: publicMsg}
}

func Required(field string) *AppError {
	return InvalidErr(field, CodeRequired, "This field is required.")
}

func NotFoundErr(field, publicMsg string) *AppError {
	return &AppError{Kind: NotFound, Code: CodeNotFound, Field: field, PublicMsg: publicMsg}
}

func PermissionDeniedErr(publicMsg string) *AppError {
	return &AppError{Kind: PermissionDenied, Code: CodePermissionDenied, PublicMsg: publicMsg}
}

func IncorrectDetails(field, publicMsg string) *AppError {
	return &AppError{Kind: Conflict, Code: CodeIncorrectDetails, Field: field, PublicMsg: publicMsg}
}

func AlreadyExists(field, publicMsg string) *AppError {
	return &AppError{Kind: Conflict, Code: CodeAlreadyExists, Field: field, PublicMsg: publicMsg}
}

func AmountRequired() *AppError {
	return InvalidErr("amount", CodeAmountRequired, "The amount is required for this event type.")
}

func CurrencyMismatch(expected, got string) *AppError {
	return InvalidErr("currency", CodeCurrencyMismatch,
		fmt.Sprintf("Currency %s does not match the transaction currency %s.", got, expected))
}

// Wrap hides an internal error behind a generic public message.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Kind: Internal, PublicMsg: "Unexpected error.", Err: err}
}

func As(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func HasCode(err error, code Code) bool {
	ae, ok := As(err)
	return ok && ae.Code == code
}

func HTTPStatus(err error) int {
	if ae, ok := As(err); ok {
		switch ae.Kind {
		case Invalid:
			return http.StatusBadRequest
		case PermissionDenied:
			return http.StatusForbidden
		case NotFound:
			return http.StatusNotFound
		case Conflict:
			return http.StatusConflict
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}

func PublicMessage(err error) string {
	if ae, ok := As(err); ok && ae.PublicMsg != "" && ae.Kind != Internal {
		return ae.PublicMsg
	}
	return "Unexpected error."
}
