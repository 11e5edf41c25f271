package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-core/internal/models"
	"chat-core/internal/services"
)

// ContactsHandler serves contact discovery and chat statistics.
type ContactsHandler struct {
	contacts services.Contacts
	messages services.Messages
}

func NewContactsHandler(contacts services.Contacts, messages services.Messages) *ContactsHandler {
	return &ContactsHandler{contacts: contacts, messages: messages}
}

// Available lists every account the caller may start a conversation with.
func (h *ContactsHandler) Available(c *gin.Context) {
	actor, tenant, ok := caller(c)
	if !ok {
		return
	}
	contacts, err := h.contacts.Available(c.Request.Context(), tenant, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contacts)
}

func (h *ContactsHandler) Search(c *gin.Context) {
	var only models.AccountType
	if raw := c.Query("type"); raw != "" {
		t, err := models.ParseAccountType(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		only = t
	}
	actor, tenant, ok := caller(c)
	if !ok {
		return
	}
	contacts, err := h.contacts.Search(c.Request.Context(), tenant, actor, c.Query("query"), only)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contacts)
}

func (h *ContactsHandler) Statistics(c *gin.Context) {
	actor, tenant, ok := caller(c)
	if !ok {
		return
	}
	stats, err := h.messages.Statistics(c.Request.Context(), tenant, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
