package metrics

import "sync"

// Event counter names used by the relay.
const (
	EventRoomCreated      = "room_created"
	EventRoomDestroyed    = "room_destroyed"
	EventSessionAccepted  = "session_accepted"
	EventSessionClosed    = "session_closed"
	EventMessageForwarded = "message_forwarded"

	DropReasonRoomFull        = "drop_room_full"
	DropReasonSendFailed      = "drop_send_failed"
	DropReasonMessageTooLarge = "drop_message_too_large"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A production deployment is expected to plug into a real metrics backend; this
// type exists to keep the relay logic testable while still exposing counters
// for scraping.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
