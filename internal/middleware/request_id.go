package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-core/internal/events"
	"chat-core/internal/observability"
)

// RequestID propagates X-Request-Id, generating one when absent, and makes it
// available to the event emitter through the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := observability.RequestIDFromRequest(c.Request)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-Id", id)
		c.Request = c.Request.WithContext(events.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}
