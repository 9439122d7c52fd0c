package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"transaction-reconciler/internal/apperr"
)

// FieldError is one entry of an error response.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Errors    []FieldError `json:"errors"`
	RequestID string       `json:"request_id,omitempty"`
}

// BindError keeps validation errors and hides decoding errors behind a generic message.
func BindError(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return ve
	}
	return &apperr.AppError{Kind: apperr.Invalid, Code: apperr.CodeInvalid, PublicMsg: "Malformed request body.", Err: err}
}

func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// Errors turns an error into its status code and response entries.
// Validation failures become one entry per invalid field.
func Errors(err error) (int, []FieldError) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		out := make([]FieldError, 0, len(ve))
		for _, fe := range ve {
			out = append(out, FieldError{
				Field:   fe.Field(),
				Code:    string(codeForTag(fe.Tag())),
				Message: messageForTag(fe.Tag(), fe.Param()),
			})
		}
		return http.StatusBadRequest, out
	}

	fe := FieldError{Code: string(apperr.CodeInvalid), Message: apperr.PublicMessage(err)}
	if ae, ok := apperr.As(err); ok {
		fe.Field = ae.Field
		if ae.Code != "" {
			fe.Code = string(ae.Code)
		}
	}
	if apperr.HTTPStatus(err) == http.StatusInternalServerError {
		fe.Code = "INTERNAL"
	}
	return apperr.HTTPStatus(err), []FieldError{fe}
}

func ErrorHandler(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status, body := Errors(err)
		level := log.Warn
		if status >= http.StatusInternalServerError {
			level = log.Error
		}
		level("request_failed",
			zap.String("request_id", GetRequestID(c)),
			zap.Int("status", status),
			zap.Error(err),
		)
		c.AbortWithStatusJSON(status, ErrorResponse{Errors: body, RequestID: GetRequestID(c)})
	}
}

func codeForTag(tag string) apperr.Code {
	if tag == "required" || tag == "required_without" {
		return apperr.CodeRequired
	}
	return apperr.CodeInvalid
}

func messageForTag(tag, param string) string {
	switch tag {
	case "required":
		return "This field is required."
	case "required_without":
		return "This field is required when " + param + " is missing."
	case "excluded_with":
		return "This field cannot be combined with " + param + "."
	case "uuid":
		return "Must be a UUID."
	case "url":
		return "Must be a URL."
	case "event_type":
		return "Unknown event type."
	case "transaction_action":
		return "Unknown transaction action."
	case "currency":
		return "Must be a three letter currency code."
	case "max":
		return "Must be at most " + param + "."
	default:
		return "Invalid value."
	}
}
