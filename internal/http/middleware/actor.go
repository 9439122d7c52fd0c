package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"transaction-reconciler/internal/auth"
)

const CtxKeyActor = "actor"

// Actor resolves the caller from the request headers and rejects anonymous requests.
func Actor(resolver auth.ActorResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := resolver.Resolve(c.Request.Header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Errors:    []FieldError{{Code: "UNAUTHENTICATED", Message: err.Error()}},
				RequestID: GetRequestID(c),
			})
			return
		}
		c.Set(CtxKeyActor, actor)
		c.Next()
	}
}

func GetActor(c *gin.Context) auth.Actor {
	if v, ok := c.Get(CtxKeyActor); ok {
		if a, ok := v.(auth.Actor); ok {
			return a
		}
	}
	return auth.Actor{}
}
