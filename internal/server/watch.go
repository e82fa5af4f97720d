package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	watchWriteWait = 10 * time.Second
	watchReadLimit = 512
)

// handleWatch streams the caller's change events over a websocket until the
// client disconnects or the server shuts down.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	f, err := parseFields(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.coordinator.Watch(r.Context(), f.credentials())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	pongWait := 2 * s.pingInterval
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(watchReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case <-s.closing:
			s.closeWatch(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case ev, ok := <-sub.C:
			if !ok {
				s.closeWatch(conn, websocket.CloseGoingAway, "server shutting down")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("writing watch event", "device_id", ev.DeviceID, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(watchWriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) closeWatch(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(watchWriteWait))
}
