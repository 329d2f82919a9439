package relay

import (
	"log/slog"
	"sync"

	"github.com/vidroom/signal-relay/internal/metrics"
)

// Router maps room keys to live rooms. Routing is deterministic: two calls
// with the same key return the same instance for as long as that room has
// members. A room that wound down is forgotten, so the next Route for its key
// creates a fresh one.
type Router struct {
	memberCap int
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRouter(memberCap int, logger *slog.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Router{
		memberCap: memberCap,
		log:       logger,
		metrics:   m,
		rooms:     make(map[string]*Room),
	}
}

// Route returns the room for key, creating it on demand.
//
// The returned room may wind down between Route and Join when its last member
// races out; Join reports ErrRoomClosed and the caller routes again.
func (rt *Router) Route(key string) *Room {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if room, ok := rt.rooms[key]; ok {
		return room
	}

	room := newRoom(key, rt.memberCap, rt.log, rt.metrics, func(r *Room) {
		rt.remove(key, r)
	})
	rt.rooms[key] = room
	rt.metrics.Inc(metrics.EventRoomCreated)
	rt.log.Info("room created", "room", key)
	return room
}

// remove forgets key, but only while it still maps to room. A fresh room may
// have been created for the same key after the old one wound down.
func (rt *Router) remove(key string, room *Room) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.rooms[key] == room {
		delete(rt.rooms, key)
	}
}

// RoomCount reports the number of live rooms.
func (rt *Router) RoomCount() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.rooms)
}
