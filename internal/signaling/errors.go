package signaling

import "errors"

var (
	ErrEmptyBatch   = errors.New("empty event batch")
	ErrMixedSenders = errors.New("batch events have mixed senders")
)
