// Package notification broadcasts case transition events to connected
// parties over WebSocket. Delivery is best effort: a failed or absent
// connection is never an error to the code driving the transition.
package notification

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/medifusion/triage-api/internal/model"
	"github.com/medifusion/triage-api/pkg/metrics"
)

const writeWait = 10 * time.Second

// Conn is the subset of *websocket.Conn the hub needs; tests substitute
// in-memory fakes.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Notifier is the dispatcher contract consumed by the lifecycle engine.
type Notifier interface {
	Notify(recipient uuid.UUID, event model.NotificationEvent)
}

// Hub maps a recipient to its set of live connections. A user may hold
// several connections (multiple tabs, devices); all of them receive
// every event. Connections whose writes fail are dropped in place.
type Hub struct {
	mu      sync.Mutex
	conns   map[uuid.UUID]map[Conn]struct{}
	logger  *zerolog.Logger
	metrics *metrics.Metrics
}

func NewHub(logger *zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		conns:   make(map[uuid.UUID]map[Conn]struct{}),
		logger:  logger,
		metrics: m,
	}
}

// Register adds a connection for the recipient.
func (h *Hub) Register(recipient uuid.UUID, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[recipient]
	if !ok {
		set = make(map[Conn]struct{})
		h.conns[recipient] = set
	}
	set[conn] = struct{}{}

	h.logger.Debug().Str("user_id", recipient.String()).Int("connections", len(set)).
		Msg("websocket registered")
}

// Unregister removes a connection; the last one removes the recipient
// entry entirely.
func (h *Hub) Unregister(recipient uuid.UUID, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(recipient, conn)
}

func (h *Hub) removeLocked(recipient uuid.UUID, conn Conn) {
	set, ok := h.conns[recipient]
	if !ok {
		return
	}
	if _, ok := set[conn]; !ok {
		return
	}
	delete(set, conn)
	conn.Close()
	if len(set) == 0 {
		delete(h.conns, recipient)
	}
}

// Notify sends the event to every live connection of the recipient.
// Failed connections are deregistered; nothing is reported back.
func (h *Hub) Notify(recipient uuid.UUID, event model.NotificationEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal notification")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[recipient]
	if !ok {
		return
	}

	var dead []Conn
	for conn := range set {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Warn().Err(err).Str("user_id", recipient.String()).
				Msg("notification send failed, dropping connection")
			dead = append(dead, conn)
			continue
		}
		if h.metrics != nil {
			h.metrics.NotificationsSent.Inc()
		}
	}

	for _, conn := range dead {
		h.removeLocked(recipient, conn)
		if h.metrics != nil {
			h.metrics.NotificationsDropped.Inc()
		}
	}
}

// Broadcast sends the event to every connected recipient.
func (h *Hub) Broadcast(event model.NotificationEvent) {
	h.mu.Lock()
	recipients := make([]uuid.UUID, 0, len(h.conns))
	for id := range h.conns {
		recipients = append(recipients, id)
	}
	h.mu.Unlock()

	for _, id := range recipients {
		h.Notify(id, event)
	}
}

// Connections returns the live connection count for a recipient.
func (h *Hub) Connections(recipient uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[recipient])
}
