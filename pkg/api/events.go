package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one orchestrator happening pushed to websocket subscribers.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
	Time time.Time   `json:"time"`
}

// Event types published by the orchestrator.
const (
	EventAgentRegistered = "agent_registered"
	EventAgentApproved   = "agent_approved"
	EventAgentRevoked    = "agent_revoked"
	EventScanDispatched  = "scan_dispatched"
	EventResultUpdated   = "result_updated"
	EventResultFinalized = "result_finalized"
	EventReportCreated   = "report_created"
)

const subscriberBuffer = 16

// Hub fans orchestrator events out to websocket subscribers. Slow
// subscribers drop events rather than blocking the publisher.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub creates an event hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to every subscriber.
func (h *Hub) Publish(eventType string, data interface{}) {
	ev := Event{Type: eventType, Data: data, Time: time.Now()}

	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("Dropping %s event for slow subscriber", eventType)
		}
	}
}

// Subscribe registers a new subscriber; the returned cancel func must be
// called to release it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}

	return ch, cancel
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// serveEvents upgrades the connection and streams events until the client
// goes away.
func (s *Server) serveEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	events, cancel := s.hub.Subscribe()
	defer cancel()

	// Reader goroutine: we never expect client messages, but reading is
	// what surfaces the close frame.
	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("Websocket write failed: %v", err)
				return
			}
		}
	}
}
