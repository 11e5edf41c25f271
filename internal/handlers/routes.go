package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-core/internal/events"
	"chat-core/internal/middleware"
	"chat-core/internal/observability"
	"chat-core/internal/services"
)

// RouterDeps collects what the HTTP surface is built from.
type RouterDeps struct {
	Service       string
	Conversations services.Conversations
	Messages      services.Messages
	Presence      services.Presences
	Contacts      services.Contacts
	Auth          gin.HandlerFunc
	Tenant        gin.HandlerFunc
	WebSocket     gin.HandlerFunc
	// Files is nil unless attachments live on local disk.
	Files  FileResolver
	Events events.Notifier
	Debug  bool
}

// NewRouter builds the gin engine with every chat route registered.
func NewRouter(d RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware(d.Service))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if d.Files != nil {
		router.GET("/files/*key", ServeFile(d.Files))
	}

	api := router.Group("/", d.Auth, d.Tenant)

	conversations := NewConversationHandler(d.Conversations, d.Messages)
	api.GET("/conversations", conversations.List)
	api.POST("/conversations", conversations.CreateOrGet)
	api.GET("/conversations/unread", conversations.UnreadCounts)
	api.PUT("/conversations/:id/archive", conversations.Archive)
	api.PUT("/conversations/:id/mute", conversations.Mute)
	api.PUT("/conversations/:id/reset-unread", conversations.ResetUnread)
	api.DELETE("/conversations/:id", conversations.Delete)
	api.DELETE("/conversations/:id/messages", conversations.Clear)
	api.GET("/conversations/:id/messages", conversations.Messages)
	api.GET("/conversations/:id/messages/search", conversations.Search)

	messages := NewMessageHandler(d.Messages)
	api.POST("/messages", messages.Send)
	api.PUT("/messages/mark-read", messages.MarkRead)
	api.PUT("/messages/:id", messages.Update)
	api.DELETE("/messages/:id", messages.Delete)
	api.POST("/upload", messages.Upload)
	api.POST("/upload/voice", messages.UploadVoice)

	contacts := NewContactsHandler(d.Contacts, d.Messages)
	api.GET("/contacts", contacts.Available)
	api.GET("/contacts/search", contacts.Search)
	api.GET("/stats", contacts.Statistics)

	presence := NewPresenceHandler(d.Presence)
	api.PUT("/presence", presence.Update)
	api.GET("/presence", presence.Statuses)
	api.GET("/settings", presence.Settings)
	api.PUT("/settings", presence.UpdateSettings)

	if d.WebSocket != nil {
		api.GET("/ws", d.WebSocket)
	}

	RegisterDebugRoutes(api, d.Events, d.Debug)
	return router
}
