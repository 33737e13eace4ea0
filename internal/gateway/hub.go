package gateway

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mvail/frontdesk/internal/logging"
	"github.com/mvail/frontdesk/internal/session"
)

// Hub fans session events out to connected operator consoles. It
// implements session.EventSink; Publish never blocks a call turn.
type Hub struct {
	log *logging.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	conn *websocket.Conn
	send chan session.Event
}

// NewHub creates an empty event hub.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		log:     log.Sub("hub"),
		clients: make(map[*hubClient]struct{}),
	}
}

// Publish broadcasts one event. Slow consumers are disconnected rather
// than allowed to back-pressure the call path.
func (h *Hub) Publish(ev session.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.log.Warn().Msg("dropping slow event consumer")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ClientCount reports the number of connected consumers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(conn *websocket.Conn) *hubClient {
	c := &hubClient{conn: conn, send: make(chan session.Event, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// run writes queued events to one consumer until its channel closes or
// a write fails.
func (h *Hub) run(c *hubClient) {
	defer c.conn.Close()
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			h.log.Debug().Err(err).Msg("event write failed, dropping consumer")
			h.remove(c)
			return
		}
	}
}
