// Package realtime streams transaction lifecycle events to WebSocket
// subscribers. Operators watch the saga progress live instead of
// polling the ledger.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"fulfillment/internal/saga"
)

// Hub manages WebSocket subscribers and fans transaction events out to them.
type Hub struct {
	connections map[*websocket.Conn]struct{}
	Register    chan *websocket.Conn
	Unregister  chan *websocket.Conn
	Broadcast   chan []byte
	mu          sync.Mutex
}

// NewHub constructs a Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*websocket.Conn]struct{}),
		Register:    make(chan *websocket.Conn),
		Unregister:  make(chan *websocket.Conn),
		Broadcast:   make(chan []byte),
	}
}

// Run processes register/unregister/broadcast events until the context ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.connections {
				conn.Close()
				delete(h.connections, conn)
			}
			h.mu.Unlock()
			return
		case conn := <-h.Register:
			h.mu.Lock()
			h.connections[conn] = struct{}{}
			h.mu.Unlock()
		case conn := <-h.Unregister:
			h.mu.Lock()
			delete(h.connections, conn)
			h.mu.Unlock()
			conn.Close()
		case msg := <-h.Broadcast:
			h.mu.Lock()
			for conn := range h.connections {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.connections, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// EventSink adapts the hub to the orchestrator's audit sink so every
// published transaction event reaches live subscribers as JSON.
type EventSink struct {
	hub *Hub
}

// NewEventSink constructs an EventSink over the hub.
func NewEventSink(hub *Hub) *EventSink {
	return &EventSink{hub: hub}
}

func (s *EventSink) Publish(ctx context.Context, event saga.AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case s.hub.Broadcast <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
