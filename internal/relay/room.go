package relay

import (
	"log/slog"

	"github.com/vidroom/signal-relay/internal/metrics"
)

type joinRequest struct {
	sess  *Session
	reply chan error
}

type envelope struct {
	from    *Session
	payload []byte
}

// Room relays messages between the sessions registered under one room key.
//
// All state is owned by the run goroutine. When the last member leaves, the
// goroutine stops, done is closed, and the onEmpty callback tells the router
// to forget the key.
type Room struct {
	key     string
	cap     int
	log     *slog.Logger
	metrics *metrics.Metrics
	onEmpty func(*Room)

	join    chan joinRequest
	leave   chan *Session
	forward chan envelope
	done    chan struct{}

	members map[*Session]struct{}
}

func newRoom(key string, cap int, logger *slog.Logger, m *metrics.Metrics, onEmpty func(*Room)) *Room {
	if m == nil {
		m = metrics.New()
	}
	r := &Room{
		key:     key,
		cap:     cap,
		log:     logger.With("room", key),
		metrics: m,
		onEmpty: onEmpty,
		join:    make(chan joinRequest),
		leave:   make(chan *Session),
		forward: make(chan envelope),
		done:    make(chan struct{}),
		members: make(map[*Session]struct{}),
	}
	go r.run()
	return r
}

func (r *Room) Key() string { return r.key }

// Join registers sess as a member. It fails with ErrRoomFull when the member
// cap is reached and ErrRoomClosed when the room already wound down.
func (r *Room) Join(sess *Session) error {
	req := joinRequest{sess: sess, reply: make(chan error, 1)}
	select {
	case r.join <- req:
		return <-req.reply
	case <-r.done:
		return ErrRoomClosed
	}
}

// Leave removes sess from the member set. It must be called on every
// disconnect path; a missed Leave leaks the session and keeps delivering to a
// dead connection. Leaving twice, or leaving a closed room, is a no-op.
func (r *Room) Leave(sess *Session) {
	select {
	case r.leave <- sess:
	case <-r.done:
	}
}

// Forward delivers payload to every member except from, in the order the
// sender produced it. A room with no other members drops the payload silently;
// that is a valid state, not an error.
func (r *Room) Forward(from *Session, payload []byte) {
	select {
	case r.forward <- envelope{from: from, payload: payload}:
	case <-r.done:
	}
}

// Done is closed when the room has wound down.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) run() {
	defer close(r.done)

	for {
		select {
		case req := <-r.join:
			if r.cap > 0 && len(r.members) >= r.cap {
				r.metrics.Inc(metrics.DropReasonRoomFull)
				req.reply <- ErrRoomFull
				continue
			}
			r.members[req.sess] = struct{}{}
			r.metrics.Inc(metrics.EventSessionAccepted)
			r.log.Info("session joined", "members", len(r.members))
			req.reply <- nil

		case sess := <-r.leave:
			if _, ok := r.members[sess]; !ok {
				continue
			}
			delete(r.members, sess)
			sess.closeSend()
			r.metrics.Inc(metrics.EventSessionClosed)
			r.log.Info("session left", "members", len(r.members))
			if len(r.members) == 0 {
				r.metrics.Inc(metrics.EventRoomDestroyed)
				r.log.Info("room destroyed")
				if r.onEmpty != nil {
					r.onEmpty(r)
				}
				return
			}

		case env := <-r.forward:
			for sess := range r.members {
				if sess == env.from {
					continue
				}
				if !sess.enqueue(env.payload) {
					// A member whose send queue is wedged is as good as gone;
					// its read pump will issue the real Leave shortly.
					r.metrics.Inc(metrics.DropReasonSendFailed)
					continue
				}
				r.metrics.Inc(metrics.EventMessageForwarded)
			}
		}
	}
}
