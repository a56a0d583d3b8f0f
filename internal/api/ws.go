package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/appointment"
)

const (
	writeWait    = 5 * time.Second
	hubQueueSize = 256
)

// SlotEvent tells connected calendars that a slot changed and should be
// refetched. It carries no client data.
type SlotEvent struct {
	Type string `json:"type"`
	Date string `json:"date"`
	Time string `json:"time"`
}

// Hub fans slot changes out to websocket subscribers. Only Run writes to
// connections.
type Hub struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger
	events   chan SlotEvent

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewHub(allowedOrigins []string, log zerolog.Logger) *Hub {
	h := &Hub{
		log:    log.With().Str("component", "ws_hub").Logger(),
		events: make(chan SlotEvent, hubQueueSize),
		conns:  make(map[*websocket.Conn]struct{}),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)}
	return h
}

// Publish queues a change without blocking. It is meant to be registered
// with appointment.Store.Subscribe.
func (h *Hub) Publish(change appointment.SlotChange) {
	ev := SlotEvent{Type: "slot_changed", Date: change.Date, Time: change.Time}
	select {
	case h.events <- ev:
	default:
		h.log.Warn().Str("date", ev.Date).Str("time", ev.Time).Msg("websocket queue full, dropping slot event")
	}
}

// Run broadcasts queued events until ctx ends, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev := <-h.events:
			h.broadcast(ev)
		}
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	// Subscribers never send anything; reading only detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(conn)
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) broadcast(ev SlotEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal slot event")
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.remove(c)
		}
	}
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = c.Close()
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
