package peer

import "errors"

var (
	// ErrMissingDescription is returned when a batch that should carry the
	// expected offer or answer does not. The handshake aborts; there is no
	// retry path.
	ErrMissingDescription = errors.New("batch missing expected offer or answer")

	// ErrUnexpectedDescription is returned when an offer or answer arrives in
	// a state that cannot accept one.
	ErrUnexpectedDescription = errors.New("unexpected offer or answer for current state")
)
