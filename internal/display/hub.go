package display

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Hub fans preview frames out to websocket viewers. Each viewer holds at
// most one pending frame; slow viewers skip frames instead of stalling the
// renderer.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.Mutex
	viewers map[*viewer]struct{}
	latest  []byte
}

type viewer struct {
	conn   *websocket.Conn
	frames chan []byte
	done   chan struct{}
}

// NewHub creates an empty hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  512,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger.With().Str("component", "preview").Logger(),
		viewers: make(map[*viewer]struct{}),
	}
}

// Viewers returns the number of connected viewers
func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Broadcast queues a PNG frame for every viewer
func (h *Hub) Broadcast(png []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = png
	for v := range h.viewers {
		select {
		case v.frames <- png:
		default:
			// Viewer is behind; replace its pending frame
			select {
			case <-v.frames:
			default:
			}
			select {
			case v.frames <- png:
			default:
			}
		}
	}
}

// ServeHTTP upgrades the request and streams frames until the viewer leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	v := &viewer{
		conn:   conn,
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.viewers[v] = struct{}{}
	if h.latest != nil {
		v.frames <- h.latest
	}
	h.mu.Unlock()

	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("viewer connected")
	go h.readPump(v)
	h.writePump(v)
}

func (h *Hub) remove(v *viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.viewers[v]; ok {
		delete(h.viewers, v)
		close(v.done)
	}
}

// readPump drains the connection so pongs and close frames are processed
func (h *Hub) readPump(v *viewer) {
	defer h.remove(v)

	v.conn.SetReadLimit(512)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug().Err(err).Msg("viewer read failed")
			}
			return
		}
	}
}

// writePump sends queued frames and keepalive pings
func (h *Hub) writePump(v *viewer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(v)
		v.conn.Close()
	}()

	for {
		select {
		case <-v.done:
			return
		case frame := <-v.frames:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
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
