// Package peer implements the participant-side signaling state machine.
//
// Each participant owns one Peer. The peer decides its role from the room key
// and its username, then drives the offer/answer handshake over a relay
// transport: the initiator sends the first offer batch, the responder replies
// with an answer batch, and both end up Connected. Candidate gathering is
// non-trickle, so a description and all of its candidates always travel in a
// single batch.
package peer
