package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-core/internal/apperr"
	"chat-core/internal/db"
	"chat-core/internal/middleware"
	"chat-core/internal/models"
)

// caller returns the authenticated actor and its tenant handle, aborting the
// request when either is missing.
func caller(c *gin.Context) (models.Actor, db.Handle, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
		return models.Actor{}, db.Handle{}, false
	}
	h, ok := middleware.HandleFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown tenant"})
		return models.Actor{}, db.Handle{}, false
	}
	return actor, h, true
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.InvalidArgument:
		return http.StatusBadRequest
	case apperr.Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes err with the status of its kind. Internal errors are
// not echoed to the client.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

type participantRequest struct {
	ID   int64  `json:"participant_id" binding:"required,gt=0"`
	Type string `json:"participant_type" binding:"required"`
}

func (r participantRequest) participant() (models.Participant, error) {
	t, err := models.ParseAccountType(r.Type)
	if err != nil {
		return models.Participant{}, err
	}
	return models.Participant{ID: r.ID, Type: t}, nil
}
