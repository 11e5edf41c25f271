package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"chat-core/internal/db"
	"chat-core/internal/middleware"
	"chat-core/internal/models"
	"chat-core/internal/observability"
	"chat-core/internal/services"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades authenticated requests to websocket connections that receive
// the account's chat events. The first connection of an account marks it
// online and the last one to close marks it offline.
type Handler struct {
	hub      *Hub
	presence services.Presences
	log      *zap.Logger
}

func NewHandler(hub *Hub, presence services.Presences, log *zap.Logger) *Handler {
	return &Handler{hub: hub, presence: presence, log: log}
}

// Handle must run behind the auth and tenant middlewares.
func (h *Handler) Handle(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
		return
	}
	tenant, ok := middleware.HandleFrom(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tenant"})
		return
	}

	ctx, span := otel.Tracer("chat-core/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		Tenant:      tenant.Tenant,
		Participant: actor.Participant,
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	if h.hub.Add(conn, info) == 1 {
		h.setPresence(ctx, tenant, actor.Participant, models.PresenceOnline)
	}
	observability.IncWSActive()
	h.log.Info("websocket connected",
		zap.String("conn_id", info.ConnID),
		zap.String("tenant", info.Tenant),
		zap.Stringer("user", info.Participant),
		zap.String("ip", info.IP),
	)

	go h.readLoop(context.WithoutCancel(ctx), tenant, conn, info)
}

func (h *Handler) readLoop(ctx context.Context, tenant db.Handle, conn *websocket.Conn, info ConnInfo) {
	done := make(chan struct{})
	var closeReason string
	defer func() {
		close(done)
		if h.hub.Remove(info.Tenant, info.Participant, conn) == 0 {
			h.setPresence(ctx, tenant, info.Participant, models.PresenceOffline)
		}
		observability.DecWSActive()
		h.log.Info("websocket disconnected",
			zap.String("conn_id", info.ConnID),
			zap.Stringer("user", info.Participant),
			zap.Duration("duration", time.Since(info.ConnectedAt)),
			zap.String("reason", closeReason),
		)
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go h.pingLoop(conn, done)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws", "error")
			}
			return
		}
	}
}

func (h *Handler) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) setPresence(ctx context.Context, tenant db.Handle, p models.Participant, status models.PresenceStatus) {
	if h.presence == nil {
		return
	}
	if _, err := h.presence.Update(ctx, tenant, p, status); err != nil {
		h.log.Warn("presence update failed", zap.Stringer("user", p), zap.String("status", string(status)), zap.Error(err))
	}
}
