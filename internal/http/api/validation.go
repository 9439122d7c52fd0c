package api

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"transaction-reconciler/internal/domain"
)

var registerOnce sync.Once

// RegisterValidators adds the domain tags to gin's validator and makes
// reported field names match the JSON names.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("event_type", func(fl validator.FieldLevel) bool {
			return domain.TransactionEventType(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("transaction_action", func(fl validator.FieldLevel) bool {
			return domain.TransactionAction(strings.ToUpper(fl.Field().String())).Valid()
		})
		_ = v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			if len(s) != 3 {
				return false
			}
			for _, r := range s {
				if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
					return false
				}
			}
			return true
		})
	})
}
