package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sigreer/devhistory/internal/monitor"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// StreamMessage is one frame on the push channel
type StreamMessage struct {
	Type      string            `json:"type"` // always "snapshot"
	Snapshot  *monitor.Snapshot `json:"snapshot,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// handleStream upgrades to a websocket and pushes the latest snapshot after
// every change. Slow clients skip intermediate snapshots.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.log.With().Str("remote_addr", r.RemoteAddr).Logger()
	log.Debug().Msg("stream client connected")

	updates, cancel := s.mon.Subscribe()
	defer cancel()

	// reader detects the client going away and answers pings
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("stream read failed")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			closeStream(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case <-gone:
			log.Debug().Msg("stream client disconnected")
			return
		case snap, ok := <-updates:
			if !ok {
				closeStream(conn, websocket.CloseGoingAway, "monitor stopped")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			msg := StreamMessage{Type: "snapshot", Snapshot: snap, Timestamp: snap.TakenAt}
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("stream write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Msg("stream ping failed")
				return
			}
		}
	}
}

func closeStream(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// checkOrigin accepts non-browser clients and same-host pages
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
