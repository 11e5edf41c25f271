package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-core/internal/events"
	"chat-core/internal/models"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRoutes, notifier events.Notifier, enabled bool) {
	if !enabled {
		return
	}

	// event-test pushes a synthetic event to the caller's own sockets.
	router.GET("/debug/event-test", func(c *gin.Context) {
		if notifier == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event emitter not configured"})
			return
		}
		actor, tenant, ok := caller(c)
		if !ok {
			return
		}
		notifier.Emit(c.Request.Context(), tenant.Tenant, "debug.ping",
			[]models.Participant{actor.Participant}, gin.H{"message": "event test"})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
