package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"league-chat/internal/models"
	"league-chat/internal/observability"
)

// defaultWriteWait bounds one websocket write so a stalled client cannot
// hold up realtime dispatch.
const defaultWriteWait = 5 * time.Second

type client struct {
	conn *websocket.Conn
	info ConnInfo
	wait time.Duration
	mu   sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.wait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub fans engine events out to the UI connections of this gateway. A client
// registered with a league id only receives room events of that league;
// unread and inbox events go to every client.
type Hub struct {
	clients   map[*websocket.Conn]*client
	writeWait time.Duration
	mu        sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]*client), writeWait: defaultWriteWait}
}

// AddClient registers a websocket connection.
func (h *Hub) AddClient(conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = &client{conn: conn, info: info, wait: h.writeWait}
}

// RemoveClient removes a websocket connection.
func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// Clients returns the number of registered connections.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastRoom sends a room event to the clients following its league.
func (h *Hub) BroadcastRoom(ev models.RoomEvent) {
	h.broadcast(ev, func(info ConnInfo) bool { return info.follows(ev.LeagueID) })
}

// BroadcastUnread sends an unread snapshot to every client.
func (h *Hub) BroadcastUnread(ev models.UnreadEvent) {
	ev.Type = "unread"
	h.broadcast(ev, nil)
}

// BroadcastInbox sends a replaced preview to every client.
func (h *Hub) BroadcastInbox(p models.InboxPreview) {
	h.broadcast(models.InboxEvent{Type: "inbox", Preview: p}, nil)
}

// Send writes one event to a single connection.
func (h *Hub) Send(conn *websocket.Conn, event any) {
	h.mu.RLock()
	c, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := c.write(payload); err != nil {
		h.drop(c, err)
	}
}

func (h *Hub) broadcast(event any, match func(ConnInfo) bool) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("encode websocket event")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if match == nil || match(c.info) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(payload); err != nil {
			h.drop(c, err)
		}
	}
}

func (h *Hub) drop(c *client, err error) {
	log.Debug().Err(err).Str("conn_id", c.info.ConnID).Msg("websocket write error")
	c.conn.Close()
	h.RemoveClient(c.conn)
	publishWSEvent(context.Background(), "ws_error", c.info, err.Error())
	observability.IncWSEvent("session", "ws_error")
}
