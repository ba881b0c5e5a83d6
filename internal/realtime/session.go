package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Session is one connected websocket client
type Session struct {
	id    uuid.UUID
	conn  *websocket.Conn
	send  chan []byte
	ready atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn) *Session {
	return &Session{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Ready reports whether the session accepts events
func (s *Session) Ready() bool { return s.ready.Load() }

// send is never closed; done signals the write pump to stop
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.ready.Store(false)
		close(s.done)
		s.conn.Close()
	})
}

// readPump discards client frames and returns when the connection fails
func (s *Session) readPump() {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Session) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("Failed to send message", zap.String("session", s.id.String()), zap.Error(err))
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
