package ws

import (
	"time"

	"chat-core/internal/models"
)

type ConnInfo struct {
	ConnID      string
	Tenant      string
	Participant models.Participant
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
