package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/TohruskyDev/FinalDream/internal/gallery"
	"github.com/TohruskyDev/FinalDream/internal/watcher"
)

const (
	sendBuffer = 256
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Hub keeps the gallery current and fans watcher events out to clients.
type Hub struct {
	gallery *gallery.Gallery
	logger  zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	seq     int64
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// NewHub returns a hub publishing into g.
func NewHub(g *gallery.Gallery, logger zerolog.Logger) *Hub {
	return &Hub{
		gallery: g,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Gallery returns the gallery the hub maintains.
func (h *Hub) Gallery() *gallery.Gallery {
	return h.gallery
}

// Publish applies e to the gallery and, if that changed it, broadcasts it.
// It reports whether the gallery changed.
func (h *Hub) Publish(e watcher.Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.gallery.Apply(e) {
		return false
	}
	if h.closed {
		return true
	}
	h.seq++
	msg := Message{
		Type:      messageType(e.Kind),
		Path:      e.Path,
		MTime:     e.MTime,
		Seq:       h.seq,
		Timestamp: time.Now().UnixMilli(),
	}
	h.broadcastLocked(msg)
	return true
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcastLocked(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal event")
		return
	}
	for c := range h.clients {
		h.enqueueLocked(c, data)
	}
	h.logger.Debug().Str("type", msg.Type).Str("path", msg.Path).Int64("seq", msg.Seq).Int("clients", len(h.clients)).Msg("Event broadcast complete")
}

// enqueueLocked drops a client whose buffer is full rather than blocking
// the watcher.
func (h *Hub) enqueueLocked(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("Dropping slow client")
		delete(h.clients, c)
		c.close()
	}
}

// register adds conn and queues the current gallery, oldest first, ahead of
// any live event.
func (h *Hub) register(conn *websocket.Conn) (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}

	snapshot := h.gallery.Oldest()
	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer+len(snapshot)),
		done: make(chan struct{}),
	}
	now := time.Now().UnixMilli()
	for _, img := range snapshot {
		data, err := json.Marshal(Message{
			Type:      TypeImageAdded,
			Path:      img.Path,
			MTime:     img.MTime,
			Seq:       h.seq,
			Snapshot:  true,
			Timestamp: now,
		})
		if err != nil {
			continue
		}
		c.send <- data
	}
	h.clients[c] = struct{}{}
	return c, true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Close tells every client the server is going away and disconnects them.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.broadcastLocked(Message{Type: TypeShutdown, Seq: h.seq, Timestamp: time.Now().UnixMilli()})
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// writePump owns all writes to c.conn.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if !h.write(c, websocket.TextMessage, data) {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			if !h.write(c, websocket.PingMessage, nil) {
				h.unregister(c)
				return
			}
		case <-c.done:
			// Flush what was queued before the close, then say goodbye.
			for {
				select {
				case data := <-c.send:
					if !h.write(c, websocket.TextMessage, data) {
						return
					}
				default:
					_ = c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
						time.Now().Add(time.Second))
					return
				}
			}
		}
	}
}

func (h *Hub) write(c *client, kind int, data []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(kind, data); err != nil {
		h.logger.Debug().Err(err).Str("remote", c.conn.RemoteAddr().String()).Msg("Write to client failed")
		return false
	}
	return true
}

// readPump discards client frames; it exists to process control frames and
// notice disconnects.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}
