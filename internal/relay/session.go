package relay

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vidroom/signal-relay/internal/metrics"
)

const (
	// Time allowed to write a message or control frame to the peer.
	sessionWriteWait = 10 * time.Second

	// Outbound queue depth per session. Signaling traffic is a handful of
	// messages per handshake, so a backed-up queue means a dead peer.
	sessionSendQueue = 16
)

// SessionConfig carries the per-connection limits the pumps enforce.
type SessionConfig struct {
	MaxMessageBytes int64
	IdleTimeout     time.Duration
	PingInterval    time.Duration
}

// Session wraps one websocket connection attached to a room.
//
// The read pump forwards inbound payloads to the room and the write pump
// drains the send queue; the room actor is the only writer to the queue and
// the only closer of it.
type Session struct {
	conn    *websocket.Conn
	room    *Room
	log     *slog.Logger
	metrics *metrics.Metrics
	cfg     SessionConfig

	send     chan []byte
	sendOnce sync.Once
}

func newSession(conn *websocket.Conn, logger *slog.Logger, m *metrics.Metrics, cfg SessionConfig) *Session {
	if m == nil {
		m = metrics.New()
	}
	return &Session{
		conn:    conn,
		log:     logger,
		metrics: m,
		cfg:     cfg,
		send:    make(chan []byte, sessionSendQueue),
	}
}

// enqueue queues payload for delivery, reporting false when the queue is full.
// Only the room actor calls enqueue and closeSend, so the two never race.
func (s *Session) enqueue(payload []byte) bool {
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *Session) closeSend() {
	s.sendOnce.Do(func() { close(s.send) })
}

// readPump reads messages from the connection and forwards them to the room.
// It runs on the handler goroutine and guarantees the session leaves the room
// on every exit path.
func (s *Session) readPump() {
	defer func() {
		s.room.Leave(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	})

	for {
		msgType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				s.metrics.Inc(metrics.DropReasonMessageTooLarge)
				s.log.Warn("closing session, message too large", "limit", s.cfg.MaxMessageBytes)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("session read failed", "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			writeClose(s.conn, websocket.CloseUnsupportedData, "expected text message")
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		s.room.Forward(s, payload)
	}
}

// writePump drains the send queue onto the connection and keeps the peer
// alive with pings. It exits when the room closes the queue or a write fails.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(sessionWriteWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Warn("session write failed", "err", err)
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(sessionWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(sessionWriteWait))
}
