package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"chat-core/internal/models"
	"chat-core/internal/services"
)

// PresenceHandler serves presence and user settings.
type PresenceHandler struct {
	presence services.Presences
}

func NewPresenceHandler(presence services.Presences) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// Update sets the caller's status.
func (h *PresenceHandler) Update(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := models.PresenceStatus(strings.ToLower(req.Status))
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	actor, tenant, ok := caller(c)
	if !ok {
		return
	}
	presence, err := h.presence.Update(c.Request.Context(), tenant, actor.Participant, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"presence": presence})
}

// Statuses returns the presence of a comma separated list of accounts.
func (h *PresenceHandler) Statuses(c *gin.Context) {
	userType, err := models.ParseAccountType(c.DefaultQuery("user_type", string(models.AccountStaff)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var ids []int64
	for _, raw := range strings.Split(c.Query("user_ids"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_ids"})
			return
		}
		ids = append(ids, id)
	}

	_, tenant, ok := caller(c)
	if !ok {
		return
	}
	statuses, err := h.presence.Statuses(c.Request.Context(), tenant, ids, userType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"presence": statuses})
}

func (h *PresenceHandler) Settings(c *gin.Context) {
	actor, tenant, ok := caller(c)
	if !ok {
		return
	}
	settings, err := h.presence.Settings(c.Request.Context(), tenant, actor.Participant)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (h *PresenceHandler) UpdateSettings(c *gin.Context) {
	var patch models.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, tenant, ok := caller(c)
	if !ok {
		return
	}
	settings, err := h.presence.UpdateSettings(c.Request.Context(), tenant, actor.Participant, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}
