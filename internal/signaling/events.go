package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type EventType string

const (
	EventTypeOffer     EventType = "offer"
	EventTypeAnswer    EventType = "answer"
	EventTypeCandidate EventType = "candidate"

	// EventTypeGathered is reserved. It is accepted by the codec but produced
	// and consumed by nothing; it exists so a future "gathering complete"
	// signal does not need a wire format change.
	EventTypeGathered EventType = "gathered"
)

// Event is one element of an event batch.
//
// SessionDescription and Candidate are opaque serialized payloads (themselves
// JSON-encoded descriptions of the underlying structures); only the media
// session layer interprets them.
type Event struct {
	Type   EventType `json:"type"`
	Sender string    `json:"sender"`

	SessionDescription string `json:"sessionDescription,omitempty"`
	Candidate          string `json:"candidate,omitempty"`
}

func (e Event) validate() error {
	if e.Sender == "" {
		return fmt.Errorf("%s event missing sender", e.Type)
	}
	switch e.Type {
	case EventTypeOffer, EventTypeAnswer:
		if e.SessionDescription == "" {
			return fmt.Errorf("%s event missing sessionDescription", e.Type)
		}
		if e.Candidate != "" {
			return fmt.Errorf("%s event has unexpected candidate field", e.Type)
		}
	case EventTypeCandidate:
		if e.Candidate == "" {
			return fmt.Errorf("candidate event missing candidate")
		}
		if e.SessionDescription != "" {
			return fmt.Errorf("candidate event has unexpected sessionDescription field")
		}
	case EventTypeGathered:
		if e.SessionDescription != "" || e.Candidate != "" {
			return fmt.Errorf("gathered event has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported event type %q", e.Type)
	}
	return nil
}

// Batch is an ordered sequence of events sent as a single relay message.
//
// A well-formed batch is non-empty, has a single sender, and carries at most
// one offer or answer, which must come first. A batch produced by a peer is
// never split: candidate gathering completes fully before anything is sent, so
// the description and all candidates travel together.
type Batch []Event

// ParseBatch decodes and validates a relay message body.
//
// Unknown fields, unknown event types, trailing data, and batches violating
// the ordering invariants are all rejected; the relay never re-delivers a
// sanitized batch, so strictness here is the only schema enforcement.
func ParseBatch(data []byte) (Batch, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var batch Batch
	if err := dec.Decode(&batch); err != nil {
		return nil, fmt.Errorf("decode event batch: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("unexpected trailing data after event batch")
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	return batch, nil
}

// Validate checks the batch invariants. Individual events are validated first
// so field-level errors surface before ordering errors.
func (b Batch) Validate() error {
	if len(b) == 0 {
		return ErrEmptyBatch
	}

	for i, ev := range b {
		if err := ev.validate(); err != nil {
			return fmt.Errorf("event[%d]: %w", i, err)
		}
	}

	sender := b[0].Sender
	for i, ev := range b {
		if ev.Sender != sender {
			return fmt.Errorf("event[%d]: %w", i, ErrMixedSenders)
		}
	}

	for i, ev := range b {
		if ev.Type != EventTypeOffer && ev.Type != EventTypeAnswer {
			continue
		}
		if i != 0 {
			return fmt.Errorf("event[%d]: %s event must come first", i, ev.Type)
		}
	}
	return nil
}

// Marshal encodes the batch as a relay message body.
func (b Batch) Marshal() ([]byte, error) {
	return json.Marshal(b)
}

// Sender returns the batch's sender identity.
func (b Batch) Sender() string {
	if len(b) == 0 {
		return ""
	}
	return b[0].Sender
}

// Description returns the batch's offer or answer event, if present.
func (b Batch) Description() (Event, bool) {
	for _, ev := range b {
		if ev.Type == EventTypeOffer || ev.Type == EventTypeAnswer {
			return ev, true
		}
	}
	return Event{}, false
}

// Candidates returns the candidate payloads carried by events whose sender is
// not self. Self-originated candidates must never be applied as remote
// candidates, so the filter lives here rather than at every call site.
func (b Batch) Candidates(self string) []string {
	var out []string
	for _, ev := range b {
		if ev.Type == EventTypeCandidate && ev.Sender != self {
			out = append(out, ev.Candidate)
		}
	}
	return out
}

// NewDescriptionBatch builds the batch a peer sends after gathering: one offer
// or answer followed by every gathered candidate, all attributed to sender.
func NewDescriptionBatch(t EventType, sender, sessionDescription string, candidates []string) (Batch, error) {
	if t != EventTypeOffer && t != EventTypeAnswer {
		return nil, fmt.Errorf("description batch requires offer or answer, got %q", t)
	}
	batch := Batch{{
		Type:               t,
		Sender:             sender,
		SessionDescription: sessionDescription,
	}}
	for _, c := range candidates {
		batch = append(batch, Event{
			Type:      EventTypeCandidate,
			Sender:    sender,
			Candidate: c,
		})
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	return batch, nil
}
