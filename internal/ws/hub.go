package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chat-core/internal/events"
	"chat-core/internal/models"
	"chat-core/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	settingsLookup = 2 * time.Second

	hubQueueSize    = 1024
	clientQueueSize = 64
)

var (
	errClientGone = errors.New("client gone")
	errQueueFull  = errors.New("send queue full")
)

// SettingsLookup returns the display preferences that gate delivery of read
// receipts and presence changes.
type SettingsLookup interface {
	Settings(ctx context.Context, tenant string, p models.Participant) (models.UserSettings, error)
}

type client struct {
	conn *websocket.Conn
	info ConnInfo
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, info ConnInfo) *client {
	return &client{
		conn: conn,
		info: info,
		send: make(chan []byte, clientQueueSize),
		done: make(chan struct{}),
	}
}

// enqueue never blocks: a client that cannot keep up gets errQueueFull.
func (c *client) enqueue(payload []byte) error {
	select {
	case <-c.done:
		return errClientGone
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errQueueFull
	}
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// writePump is the only writer of data frames on the connection.
func (c *client) writePump(log *zap.Logger) {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Warn("websocket write error",
					zap.String("conn_id", c.info.ConnID),
					zap.Stringer("user", c.info.Participant),
					zap.Error(err),
				)
				observability.IncWSEvent("ws", "write_error")
				c.stop()
				_ = c.conn.Close()
				return
			}
		}
	}
}

// Hub keeps the live connections of every account, keyed by tenant and
// account identity, and delivers chat events to them.
//
// Deliver only enqueues. A single dispatcher goroutine applies privacy
// settings and fans out to per-connection queues, so events reach each
// connection in emit order.
type Hub struct {
	rooms    map[string]map[*websocket.Conn]*client
	settings SettingsLookup
	log      *zap.Logger
	mu       sync.RWMutex

	queue chan events.Envelope
	quit  chan struct{}
	once  sync.Once
}

// NewHub creates an empty hub and starts its dispatcher. settings may be nil,
// in which case nothing is filtered.
func NewHub(settings SettingsLookup, log *zap.Logger) *Hub {
	h := &Hub{
		rooms:    make(map[string]map[*websocket.Conn]*client),
		settings: settings,
		log:      log,
		queue:    make(chan events.Envelope, hubQueueSize),
		quit:     make(chan struct{}),
	}
	go h.dispatch()
	return h
}

// Close stops the dispatcher and every connection writer. Queued events are discarded.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.quit)
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, conns := range h.rooms {
			for _, c := range conns {
				c.stop()
			}
		}
	})
}

// Add registers a connection and returns how many the account now has.
func (h *Hub) Add(conn *websocket.Conn, info ConnInfo) int {
	key := roomKey(info.Tenant, info.Participant)
	c := newClient(conn, info)
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[key]; !ok {
		h.rooms[key] = make(map[*websocket.Conn]*client)
	}
	if old, ok := h.rooms[key][conn]; ok {
		old.stop()
	}
	h.rooms[key][conn] = c
	go c.writePump(h.log)
	return len(h.rooms[key])
}

// Remove unregisters a connection and returns how many the account has left.
func (h *Hub) Remove(tenant string, p models.Participant, conn *websocket.Conn) int {
	key := roomKey(tenant, p)
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.rooms[key]
	if !ok {
		return 0
	}
	if c, ok := conns[conn]; ok {
		c.stop()
		delete(conns, conn)
	}
	if len(conns) == 0 {
		delete(h.rooms, key)
		return 0
	}
	return len(conns)
}

// Connections returns the number of live connections of an account.
func (h *Hub) Connections(tenant string, p models.Participant) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomKey(tenant, p)])
}

func (h *Hub) clients(tenant string, p models.Participant) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := h.rooms[roomKey(tenant, p)]
	out := make([]*client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Deliver queues env for its recipients and returns without waiting on
// settings lookups or socket writes. When the hub queue is full the event
// is dropped.
func (h *Hub) Deliver(env events.Envelope) {
	select {
	case <-h.quit:
		return
	default:
	}
	select {
	case h.queue <- env:
	default:
		h.log.Warn("websocket hub queue full, dropping event", zap.String("event", env.EventType))
		observability.IncWSEvent(env.EventType, "dropped")
	}
}

func (h *Hub) dispatch() {
	for {
		select {
		case <-h.quit:
			return
		case env := <-h.queue:
			h.fanOut(env)
		}
	}
}

// fanOut hands env to every connection of its recipients. A connection whose
// queue is full is closed; its read loop then unregisters it.
func (h *Hub) fanOut(env events.Envelope) {
	if !h.allowed(env) {
		observability.IncWSEvent(env.EventType, "filtered")
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		h.log.Error("websocket event encoding failed", zap.String("event", env.EventType), zap.Error(err))
		return
	}

	for _, p := range env.Recipients {
		for _, c := range h.clients(env.Tenant, p) {
			switch err := c.enqueue(payload); {
			case err == nil:
				observability.IncWSEvent(env.EventType, "sent")
			case errors.Is(err, errQueueFull):
				h.log.Warn("websocket client too slow, closing",
					zap.String("conn_id", c.info.ConnID),
					zap.Stringer("user", p),
				)
				h.Remove(env.Tenant, p, c.conn)
				if c.conn != nil {
					_ = c.conn.Close()
				}
				observability.IncWSEvent(env.EventType, "dropped")
			default:
				observability.IncWSEvent(env.EventType, "dropped")
			}
		}
	}
}

// allowed applies the subject's privacy settings: read receipts honour the
// reader's show_read_receipts and presence changes the user's show_online_status.
func (h *Hub) allowed(env events.Envelope) bool {
	if h.settings == nil {
		return true
	}
	var subject models.Participant
	var gate func(models.UserSettings) bool
	switch payload := env.Payload.(type) {
	case models.MessagesReadPayload:
		subject = payload.Reader
		gate = func(s models.UserSettings) bool { return s.ShowReadReceipts }
	case models.Presence:
		subject = payload.Participant()
		gate = func(s models.UserSettings) bool { return s.ShowOnlineStatus }
	default:
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), settingsLookup)
	defer cancel()
	settings, err := h.settings.Settings(ctx, env.Tenant, subject)
	if err != nil {
		h.log.Warn("delivery settings lookup failed, suppressing event",
			zap.String("event", env.EventType),
			zap.Stringer("user", subject),
			zap.Error(err),
		)
		return false
	}
	return gate(settings)
}
