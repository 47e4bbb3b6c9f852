package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 16
)

// Message is pushed to every connected viewer
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Document  Document  `json:"document"`
}

type viewer struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts previews to admin screens over WebSocket.
// With no viewer connected, Show reports the surface as blocked.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.RWMutex
	viewers map[string]*viewer
}

// NewHub creates an empty hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Admin screens connect from the local network
				return true
			},
		},
		logger:  logger,
		viewers: make(map[string]*viewer),
	}
}

// Viewers returns the number of connected viewers
func (h *Hub) Viewers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Show sends doc to every viewer
func (h *Hub) Show(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := json.Marshal(Message{Type: "ticket_preview", Timestamp: time.Now(), Document: doc})
	if err != nil {
		return fmt.Errorf("failed to encode preview: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for id, v := range h.viewers {
		select {
		case v.send <- msg:
			delivered++
		default:
			// Slow viewer, drop it
			delete(h.viewers, id)
			close(v.send)
		}
	}
	if delivered == 0 {
		return fmt.Errorf("%w: no preview screen connected", ErrBlocked)
	}

	h.logger.Debug().Int("viewers", delivered).Msg("preview broadcast")
	return nil
}

// ServeHTTP upgrades the request and registers the viewer
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	v := &viewer{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.viewers[v.id] = v
	h.mu.Unlock()
	h.logger.Info().Str("viewer", v.id).Str("remote", r.RemoteAddr).Msg("preview screen connected")

	go h.writePump(v)
	go h.readPump(v)
}

// Close disconnects every viewer
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, v := range h.viewers {
		delete(h.viewers, id)
		close(v.send)
	}
}

func (h *Hub) unregister(v *viewer) {
	h.mu.Lock()
	if _, ok := h.viewers[v.id]; ok {
		delete(h.viewers, v.id)
		close(v.send)
	}
	h.mu.Unlock()
	h.logger.Info().Str("viewer", v.id).Msg("preview screen disconnected")
}

func (h *Hub) readPump(v *viewer) {
	defer func() {
		h.unregister(v)
		v.conn.Close()
	}()

	v.conn.SetReadLimit(4096)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("viewer", v.id).Msg("websocket error")
			}
			return
		}
	}
}

func (h *Hub) writePump(v *viewer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
