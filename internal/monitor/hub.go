// Package monitor streams proctoring events (violations, level changes)
// to connected admin dashboards over WebSocket. One shared room; there
// is no per-team fanout.
package monitor

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for connection heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains the set of connected dashboard clients and broadcasts
// events to all of them.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewHub creates the monitor hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Register adds a dashboard connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("monitor client joined", zap.String("client_id", c.ID), zap.Int("connected", count))
}

// Unregister removes a dashboard connection.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("monitor client left", zap.String("client_id", c.ID), zap.Int("connected", count))
}

// Broadcast sends an event to every connected dashboard. Slow clients
// with a full buffer are skipped rather than blocking the caller.
func (h *Hub) Broadcast(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("monitor marshal", zap.Error(err), zap.String("event", event))
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}
