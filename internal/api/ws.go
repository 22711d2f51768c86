package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/tiroq/echoscribe/internal/jobs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed is read-only status data; same-origin enforcement adds
	// nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans job status events out to connected websocket clients. Register
// it as a jobs.Tracker observer.
type Hub struct {
	log *logrus.Entry

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// NewHub creates an empty hub.
func NewHub(log *logrus.Entry) *Hub {
	return &Hub{log: log, conns: make(map[*websocket.Conn]bool)}
}

// Handle upgrades the request and keeps the connection registered until
// the client goes away. Clients only receive; inbound messages are
// drained and dropped.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.conns[conn] = true
	h.mu.Unlock()
	h.log.WithField("remote", conn.RemoteAddr().String()).Debug("job feed client connected")

	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends the event to every connected client. Write failures
// drop the connection; the read loop notices and unregisters it.
func (h *Hub) Broadcast(ev jobs.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteJSON(ev); err != nil {
			h.log.WithError(err).Debug("dropping job feed client")
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
