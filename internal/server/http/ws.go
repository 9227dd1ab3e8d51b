package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/castkeep/castkeep/internal/events"
	"github.com/castkeep/castkeep/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Loopback agent; access control rides on the bearer token.
		return true
	},
}

// Hub relays bus events to connected WebSocket clients. The bus delivers
// to the hub's single subscription in publish order, and the hub writes
// each event to every connection before taking the next, so per-connection
// order matches publish order.
type Hub struct {
	log *zap.Logger

	mu    sync.RWMutex
	conns map[*websocket.Conn]*sync.Mutex
}

// NewHub registers a catch-all subscription on bus.
func NewHub(bus *events.Bus, log *zap.Logger) *Hub {
	h := &Hub{log: log, conns: make(map[*websocket.Conn]*sync.Mutex)}
	bus.SubscribeAll(h.broadcast)
	return h
}

func (h *Hub) broadcast(_ context.Context, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	locks := make([]*sync.Mutex, 0, len(h.conns))
	for c, l := range h.conns {
		conns = append(conns, c)
		locks = append(locks, l)
	}
	h.mu.RUnlock()

	for i, c := range conns {
		locks[i].Lock()
		err := c.WriteMessage(websocket.TextMessage, data)
		locks[i].Unlock()
		if err != nil {
			h.log.Warn("event send failed", zap.Error(err))
		}
	}
	return nil
}

// HandleEvents upgrades the connection and keeps it registered until the
// peer goes away. Nothing meaningful arrives from clients; the read loop
// exists to notice disconnects.
func (h *Hub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.conns[conn] = &sync.Mutex{}
	total := len(h.conns)
	h.mu.Unlock()
	h.log.Debug("event stream client connected", zap.Int("total", total))

	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		remaining := len(h.conns)
		h.mu.Unlock()
		conn.Close()
		h.log.Debug("event stream client disconnected", zap.Int("remaining", remaining))
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("event stream read", zap.Error(err))
			}
			return
		}
	}
}
