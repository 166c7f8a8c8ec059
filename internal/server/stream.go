package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// handleEvents upgrades to WebSocket and streams the run's progress events,
// backlog first. The stream ends after the terminal event, when the
// subscriber falls too far behind, or when the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sub, err := s.runs.Subscribe(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "run_id", id, "error", err)
		return
	}
	defer conn.Close()

	logger := s.logger.With("run_id", id)
	readTimeout := 3 * s.PingInterval
	gone := make(chan struct{})

	// Reader: handles pongs and notices the client closing.
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("event stream read error", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(s.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				if sub.Dropped() {
					logger.Warn("event stream dropped slow client")
					s.closeStream(conn, websocket.CloseTryAgainLater, "subscriber too slow")
					return
				}
				s.closeStream(conn, websocket.CloseNormalClosure, "run finished")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Error("encode progress event", "error", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(s.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("event stream write failed", "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug("event stream ping failed", "error", err)
				return
			}

		case <-gone:
			return
		}
	}
}

func (s *Server) closeStream(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.WriteWait))
}
