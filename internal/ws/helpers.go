package ws

import (
	"github.com/google/uuid"

	"chat-core/internal/models"
)

func newConnID() string {
	return uuid.NewString()
}

func roomKey(tenant string, p models.Participant) string {
	return tenant + "|" + p.String()
}
