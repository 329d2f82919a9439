package relay

import "errors"

var (
	// ErrRoomFull is returned when a join would exceed the room member cap.
	// The two-party handshake only behaves correctly for exactly two
	// participants, so the default cap rejects a third session outright.
	ErrRoomFull = errors.New("room is full")

	// ErrRoomClosed is returned when joining a room whose last member already
	// left. Callers should re-route the key to get a fresh instance.
	ErrRoomClosed = errors.New("room is closed")
)
