package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/homelight/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// handleEvents upgrades to a websocket and pushes the device's status as
// JSON once on connect and again after every state report from the light.
// Client messages are ignored.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := deviceID(r)
	if _, err := s.bridge.Device(id); err != nil {
		writeBridgeError(w, err, nil)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	if !s.trackStream(conn) {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	defer s.untrackStream(conn)

	s.streamStatus(conn, id)
}

// trackStream registers an open stream; it fails once shutdown has begun
func (s *Server) trackStream(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	s.streams[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrackStream(conn *websocket.Conn) {
	_ = conn.Close()
	s.mu.Lock()
	delete(s.streams, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// streamStatus runs the write side of an event stream until the client goes
// away, a write fails or the server shuts down
func (s *Server) streamStatus(conn *websocket.Conn, id uint32) {
	remoteAddr := conn.RemoteAddr().String()
	logging.Info("Event stream opened",
		zap.String("remote_addr", remoteAddr),
		zap.Uint32("device_id", id),
	)
	defer logging.Info("Event stream closed",
		zap.String("remote_addr", remoteAddr),
		zap.Uint32("device_id", id),
	)

	closed := make(chan struct{})
	go readPump(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		// Take the update channel before reading status so no report is missed
		updated, err := s.bridge.Updates(id)
		if err != nil {
			return
		}
		st, err := s.bridge.Device(id)
		if err != nil {
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(st); err != nil {
			logging.Debug("Event write failed", zap.String("remote_addr", remoteAddr), zap.Error(err))
			return
		}

		if !s.waitForUpdate(conn, updated, ticker.C, closed) {
			return
		}
	}
}

// waitForUpdate blocks until the next state report, pinging the peer while
// idle. It returns false when the stream should end.
func (s *Server) waitForUpdate(conn *websocket.Conn, updated <-chan struct{}, ping <-chan time.Time, closed <-chan struct{}) bool {
	for {
		select {
		case <-updated:
			return true
		case <-ping:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return false
			}
		case <-closed:
			return false
		case <-s.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return false
		}
	}
}

// readPump drains client frames so pongs and close frames are processed
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("Event stream read error", zap.Error(err))
			}
			return
		}
	}
}
