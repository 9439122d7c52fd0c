package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"transaction-reconciler/internal/apperr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestErrors(t *testing.T) {
	status, errs := Errors(apperr.AmountRequired())
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, []FieldError{{Field: "amount", Code: "AMOUNT_REQUIRED", Message: "The amount is required for this event type."}}, errs)

	status, errs = Errors(errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL", errs[0].Code)
	assert.Equal(t, "Unexpected error.", errs[0].Message)

	status, errs = Errors(BindError(errors.New("unexpected EOF")))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Malformed request body.", errs[0].Message)
}

func TestRequestIDAndRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), ErrorHandler(zap.NewNop()), Recovery(zap.NewNop()))
	r.GET("/panic", func(*gin.Context) { panic("boom") })
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(HeaderRequestID, "rid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "rid-1", w.Body.String())
	assert.Equal(t, "rid-1", w.Header().Get(HeaderRequestID))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
	assert.Contains(t, w.Body.String(), `"code":"INTERNAL"`)
}
