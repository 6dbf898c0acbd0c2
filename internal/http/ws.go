package httpapi

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/cargo-dispatch/internal/models"
)

var upgrader = websocket.Upgrader{}

// wsConn serializes writes to one websocket connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) sendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// handleBookingsWS streams the full booking snapshot to the client: once on
// connect and again after every mutation, exactly as a direct store
// subscriber would see it.
func (s *Server) handleBookingsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	c := &wsConn{conn: conn}

	var unsub func()
	unsub, err = s.store.Subscribe(func(list []models.Booking) {
		if err := c.sendJSON(list); err != nil {
			s.logger.Warn("bookings ws send failed", "error", err)
		}
	})
	if err != nil {
		_ = conn.Close()
		return
	}

	go func() {
		defer unsub()
		defer conn.Close()
		// drain control frames; exit when the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// handleWorkerWS streams one worker's location record to the client.
func (s *Server) handleWorkerWS(w http.ResponseWriter, r *http.Request) {
	workerID := mux.Vars(r)["worker_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "worker", workerID, "error", err)
		return
	}
	c := &wsConn{conn: conn}

	unsub, err := s.channel.Subscribe(workerID, func(rec models.WorkerLocation) {
		if err := c.sendJSON(rec); err != nil {
			s.logger.Warn("worker ws send failed", "worker", workerID, "error", err)
		}
	})
	if err != nil {
		_ = conn.Close()
		return
	}

	go func() {
		defer unsub()
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
