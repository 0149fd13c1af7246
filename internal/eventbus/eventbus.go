// Package eventbus fans session telemetry out to external subscribers over
// WebSocket: state transitions (spec.md section 4.10), the audio_config
// event STREAMINFO triggers, surfaced CorruptFrame notices (section 4.7),
// and fatal errors (section 7). The core orchestrator in internal/session
// never imports this package directly — callers wire a Hub's Publish
// method into session.Callbacks themselves, keeping telemetry fan-out an
// optional external collaborator rather than a core dependency.
//
// Grounded on internal/server/websocket.go's hub/broadcast pattern
// (register/unregister channel, per-client buffered send goroutine),
// repurposed from multiplayer input fan-out to one-way session-telemetry
// fan-out: subscribers here never send anything back, they only receive.
package eventbus

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ktnrg45/goremoteplay/internal/rplog"
)

// EventType discriminates the kind of telemetry an Event carries.
type EventType string

const (
	EventStateChanged EventType = "state_changed"
	EventAudioConfig  EventType = "audio_config"
	EventCorruptFrame EventType = "corrupt_frame"
	EventError        EventType = "error"
)

// Event is the envelope broadcast to every subscriber.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewStateChangedEvent wraps a state name (session.State.String()) as an
// EventStateChanged.
func NewStateChangedEvent(state string) Event {
	return Event{Type: EventStateChanged, Payload: jsonRaw(map[string]string{"state": state})}
}

// NewAudioConfigEvent wraps the audio_config fields a STREAMINFO triggers,
// sized so an external audio subsystem can allocate buffers per spec.md
// section 4.10.
func NewAudioConfigEvent(startTimeout, afkTimeout, afkTimeoutDisconnect uint32) Event {
	return Event{Type: EventAudioConfig, Payload: jsonRaw(map[string]uint32{
		"start_timeout":           startTimeout,
		"afk_timeout":             afkTimeout,
		"afk_timeout_disconnect":  afkTimeoutDisconnect,
	})}
}

// NewCorruptFrameEvent wraps one CorruptFrame's inclusive frame-index range.
func NewCorruptFrameEvent(kind string, start, end uint32) Event {
	return Event{Type: EventCorruptFrame, Payload: jsonRaw(map[string]any{
		"kind": kind, "start": start, "end": end,
	})}
}

// NewErrorEvent wraps a terminal session error's message.
func NewErrorEvent(err error) Event {
	return Event{Type: EventError, Payload: jsonRaw(map[string]string{"error": err.Error()})}
}

func jsonRaw(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// client is one subscribed WebSocket connection and its outbound buffer.
type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts Events to every currently-subscribed client.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool

	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	log rplog.Logger
}

// NewHub constructs an unstarted Hub; call Run to start its dispatch loop.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		log:        rplog.New("eventbus"),
	}
}

// Run drives the Hub's register/unregister/broadcast dispatch loop until
// ctx is cancelled, at which point every subscriber's send channel is
// closed.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*client]bool)
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case payload := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- payload:
				default:
					// Slow subscriber: drop it rather than block telemetry
					// fan-out for everyone else.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish encodes and fans e out to every currently-subscribed client.
// Safe to call as a session.Callbacks.StateChanged/AudioConfig/Error hook.
func (h *Hub) Publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.log.Warn("dropping unencodable event", "type", string(e.Type))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("broadcast buffer full, dropping event", "type", string(e.Type))
	}
}

// ServeWS upgrades r into a subscriber connection and registers it with the
// Hub, blocking until the connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{id: uuid.New().String(), hub: h, conn: conn, send: make(chan []byte, 32)}
	h.register <- c

	go c.discardInbound()
	c.writePump()
	return nil
}

// discardInbound drains (and ignores) anything the subscriber sends, purely
// to detect the connection closing — this Hub is publish-only. On
// disconnect it unregisters itself so the Hub stops fanning events to a
// dead client and writePump's range over send unblocks.
func (c *client) discardInbound() {
	defer c.conn.Close()
	c.conn.SetReadDeadline(time.Time{})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.hub.unregister <- c
			return
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
