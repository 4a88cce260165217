// Package hub broadcasts content-save events over websockets so preview
// pages can refresh as an author saves.
package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/inplacehq/inplace/internal/model"
)

var hubLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	hubLogger = l
}

// Event is one saved or deleted content entry pushed to subscribers.
type Event struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Key     model.Key `json:"key"`
	Content string    `json:"content,omitempty"`
	SavedAt time.Time `json:"savedAt"`
}

func SavedEvent(key model.Key, content string) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    "saved",
		Key:     key,
		Content: content,
		SavedAt: time.Now().UTC(),
	}
}

func DeletedEvent(key model.Key) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    "deleted",
		Key:     key,
		SavedAt: time.Now().UTC(),
	}
}

type client struct {
	conn  *websocket.Conn
	appID model.AppID
	msg   chan []byte
}

// Hub tracks connected preview pages per application.
type Hub struct {
	clients map[*client]bool
	mu      sync.RWMutex

	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			// The harness serves pages from arbitrary local origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.msg)
	}
}

// Broadcast queues an event for every subscriber of the application. Slow
// subscribers drop events rather than blocking the save path.
func (h *Hub) Broadcast(appID model.AppID, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		hubLogger.Error().Err(err).Msg("Error encoding event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.appID == appID {
			select {
			case c.msg <- data:
			default:
			}
		}
	}
}

// ServeWS upgrades the request and pumps events until the peer disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, appID model.AppID) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hubLogger.Warn().Err(err).Msg("Error upgrading websocket")
		return
	}

	c := &client{conn: conn, appID: appID, msg: make(chan []byte, 16)}
	h.add(c)
	hubLogger.Debug().Str("app", string(appID)).Msg("Preview subscriber connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	for data := range c.msg {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			hubLogger.Debug().Err(err).Msg("Error writing to subscriber")
			break
		}
	}
	c.conn.Close()
}

// readPump discards inbound messages; its job is noticing the close.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
