package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsWriteTimeout bounds a single frame write to a slow client.
	wsWriteTimeout = 10 * time.Second
	// wsPingInterval keeps idle connections alive through proxies.
	wsPingInterval = 30 * time.Second
	// wsEventBuffer is the per-subscriber event buffer; events beyond
	// it are dropped rather than blocking the publishers.
	wsEventBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API serves localhost voice clients; the event stream carries
	// no credentials and is read-only.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents streams bus events to a WebSocket client as JSON, one
// event per text frame, until the client goes away. When the route
// carries a session id, only that session's events are forwarded.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}
	sessionID := r.PathValue("id")
	if sessionID != "" {
		if _, ok := s.sessions.Get(sessionID); !ok {
			s.errorResponse(w, http.StatusNotFound, "session not found")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events := s.bus.Subscribe(wsEventBuffer)
	defer s.bus.Unsubscribe(events)

	s.logger.Debug("event stream connected", "remote", r.RemoteAddr)

	// Reader goroutine: we never expect client frames, but reading is
	// required to notice close frames and connection loss.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if sessionID != "" && evt.Data["session_id"] != sessionID {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
