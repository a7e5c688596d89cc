// Package eventhub is the orchestrator's event bus (§2, §4.9 step 5:
// "Emit an Event for subscribers"), grounded on the teacher's ws_hub.go
// MetricsHub (a register/unregister/broadcast channel loop over
// *websocket.Conn) and streaming.Publisher/Subscriber (the
// Publish/Subscribe interface pair) — combined here into one Hub that
// serves in-process subscribers (metrics collector, tests) directly and
// fans the same events out to the out-of-scope GUI/IPC surface over a
// websocket transport.
package eventhub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxConnections = 200

// Event is one orchestrator-emitted notification (§6: TimerStarted,
// TaskStateChanged, ...).
type Event struct {
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// Subscription is returned by Subscribe; call Unsubscribe to stop
// receiving events.
type Subscription struct {
	hub *Hub
	id  uint64
}

func (s Subscription) Unsubscribe() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	delete(s.hub.subscribers, s.id)
}

// Hub fans out Events to in-process subscribers and websocket clients.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uint64]func(Event)
	nextSubID   uint64
	conns       map[*websocket.Conn]struct{}
	breaker     *broadcastBreaker
}

func New() *Hub {
	return &Hub{
		subscribers: make(map[uint64]func(Event)),
		conns:       make(map[*websocket.Conn]struct{}),
		breaker:     newBroadcastBreaker(),
	}
}

// Subscribe registers an in-process handler, mirroring
// streaming.Subscriber.Subscribe but without a topic filter — the daemon
// is single-user/single-process, so every subscriber sees every event.
func (h *Hub) Subscribe(handler func(Event)) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSubID++
	id := h.nextSubID
	h.subscribers[id] = handler
	return Subscription{hub: h, id: id}
}

// Register adds a websocket client that receives every broadcast Event as
// JSON, capped at maxConnections exactly like the teacher's MetricsHub.
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.conns) >= maxConnections {
		conn.Close()
		log.Printf("[eventhub] connection rejected: max connections (%d) reached", maxConnections)
		return
	}
	h.conns[conn] = struct{}{}
}

// Unregister removes a websocket client.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		conn.Close()
	}
}

// Publish implements streaming.Publisher's Publish shape: it fans eventType
// out to every in-process subscriber synchronously (so journal-commit
// ordering is preserved, per §5 "Event emission order matches journal
// commit order") then best-effort broadcasts to websocket clients.
func (h *Hub) Publish(eventType string, payload map[string]interface{}) {
	event := Event{Type: eventType, Payload: payload, Timestamp: time.Now()}

	h.mu.RLock()
	handlers := make([]func(Event), 0, len(h.subscribers))
	for _, fn := range h.subscribers {
		handlers = append(handlers, fn)
	}
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(event)
	}

	if len(conns) == 0 || !h.breaker.allow() {
		return
	}
	raw, err := json.Marshal(event)
	if err != nil {
		log.Printf("[eventhub] failed to marshal event %s: %v", eventType, err)
		return
	}
	failed := 0
	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			log.Printf("[eventhub] write error, unregistering client: %v", err)
			failed++
			go h.Unregister(conn)
		}
	}
	h.breaker.record(len(conns), failed)
}

// BroadcastState reports the websocket circuit breaker's current state, for
// diagnostics.
func (h *Hub) BroadcastState() string {
	return h.breaker.State()
}

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
