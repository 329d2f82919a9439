package relay

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/vidroom/signal-relay/internal/config"
	"github.com/vidroom/signal-relay/internal/metrics"
	"github.com/vidroom/signal-relay/internal/origin"
)

// WebSocketServer upgrades signaling connections and attaches them to rooms.
//
// The room key comes from the `host` query parameter; the handler never looks
// at message content, it only moves payloads between the connection and the
// room.
type WebSocketServer struct {
	cfg      config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	router   *Router
	upgrader websocket.Upgrader
}

func NewWebSocketServer(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	s := &WebSocketServer{
		cfg:     cfg,
		log:     logger,
		metrics: m,
		router:  NewRouter(cfg.RoomMemberCap, logger, m),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Router exposes the room router, mainly for readiness and tests.
func (s *WebSocketServer) Router() *Router { return s.router }

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		// Non-browser clients send no Origin; there is nothing to enforce.
		return true
	}
	normalized, originHost, ok := origin.Normalize(header)
	if !ok {
		return false
	}
	return origin.Allowed(normalized, originHost, r.Host, s.cfg.AllowedOrigins)
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "expected WebSocket upgrade", http.StatusUpgradeRequired)
		return
	}

	key := r.URL.Query().Get("host")
	if key == "" {
		http.Error(w, "missing host query parameter", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return
	}

	sess := newSession(conn, s.log.With("room", key), s.metrics, SessionConfig{
		MaxMessageBytes: s.cfg.MaxSignalingMessageBytes,
		IdleTimeout:     s.cfg.WSIdleTimeout,
		PingInterval:    s.cfg.WSPingInterval,
	})

	room, err := s.join(key, sess)
	if err != nil {
		if errors.Is(err, ErrRoomFull) {
			writeClose(conn, websocket.ClosePolicyViolation, "room is full")
		} else {
			writeClose(conn, websocket.CloseTryAgainLater, "room unavailable")
		}
		conn.Close()
		return
	}
	sess.room = room

	go sess.writePump()
	sess.readPump()
}

// join routes key and registers sess, retrying when the routed room wound
// down between Route and Join.
func (s *WebSocketServer) join(key string, sess *Session) (*Room, error) {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		room := s.router.Route(key)
		err = room.Join(sess)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, ErrRoomClosed) {
			return nil, err
		}
	}
	return nil, err
}
