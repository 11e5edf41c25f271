package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-core/internal/services"
)

// ConversationHandler serves the /conversations endpoints.
type ConversationHandler struct {
	conversations services.Conversations
	messages      services.Messages
}

func NewConversationHandler(conversations services.Conversations, messages services.Messages) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, messages: messages}
}

// List returns the caller's conversations.
func (h *ConversationHandler) List(c *gin.Context) {
	actor, tenant, ok := caller(c)
	if !ok {
		return
	}
	views, err := h.conversations.List(c.Request.Context(), tenant, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": views})
}

// CreateOrGet opens, or returns, the conversation with another account.
func (h *ConversationHandler) CreateOrGet(c *gin.Context) {
	var req participantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, err := req.participant()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor, tenant, ok := caller(c)
	if !ok {
		return
	}
	view, err := h.conversations.CreateOrGet(c.Request.Context(), tenant, actor, target)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": view})
}

func (h *ConversationHandler) UnreadCounts(c *gin.Context) {
	actor, tenant, ok := caller(c)
	if !ok {
		return
	}
	counts, err := h.conversations.UnreadCounts(c.Request.Context(), tenant, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{"unread": counts, "total": total})
}

func (h *ConversationHandler) Archive(c *gin.Context) {
	var req struct {
		Archived *bool `json:"archived"`
	}
	_ = c.ShouldBindJSON(&req)
	archived := req.Archived == nil || *req.Archived

	h.withConversation(c, func(c *gin.Context, id int64) error {
		actor, tenant, _ := caller(c)
		return h.conversations.Archive(c.Request.Context(), tenant, id, actor, archived)
	})
}

func (h *ConversationHandler) Mute(c *gin.Context) {
	var req struct {
		Muted *bool `json:"muted" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.withConversation(c, func(c *gin.Context, id int64) error {
		actor, tenant, _ := caller(c)
		return h.conversations.Mute(c.Request.Context(), tenant, id, actor, *req.Muted)
	})
}

func (h *ConversationHandler) ResetUnread(c *gin.Context) {
	h.withConversation(c, func(c *gin.Context, id int64) error {
		actor, tenant, _ := caller(c)
		return h.conversations.ResetUnread(c.Request.Context(), tenant, id, actor)
	})
}

func (h *ConversationHandler) Clear(c *gin.Context) {
	h.withConversation(c, func(c *gin.Context, id int64) error {
		actor, tenant, _ := caller(c)
		return h.conversations.Clear(c.Request.Context(), tenant, id, actor)
	})
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	h.withConversation(c, func(c *gin.Context, id int64) error {
		actor, tenant, _ := caller(c)
		return h.conversations.Delete(c.Request.Context(), tenant, id, actor)
	})
}

// withConversation runs a body-less conversation command and answers 204.
func (h *ConversationHandler) withConversation(c *gin.Context, fn func(c *gin.Context, id int64) error) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if _, _, ok := caller(c); !ok {
		return
	}
	if err := fn(c, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Messages returns one page of the conversation, oldest first.
func (h *ConversationHandler) Messages(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	actor, tenant, ok := caller(c)
	if !ok {
		return
	}
	page := intQuery(c, "page", 1)
	limit := intQuery(c, "limit", 50)
	views, err := h.messages.List(c.Request.Context(), tenant, id, actor, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": views, "page": page, "limit": limit})
}

// Search finds messages of the conversation by body, newest first.
func (h *ConversationHandler) Search(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	actor, tenant, ok := caller(c)
	if !ok {
		return
	}
	page := intQuery(c, "page", 1)
	limit := intQuery(c, "limit", 20)
	views, err := h.messages.Search(c.Request.Context(), tenant, id, actor, c.Query("query"), page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": views, "page": page, "limit": limit})
}
