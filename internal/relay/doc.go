// Package relay implements the per-room message relay.
//
// A Room is an actor: a single goroutine owns the member set and processes
// join, leave, and forward requests one at a time, so no locks guard room
// state. Payloads are forwarded verbatim to every member except the sender;
// the relay never inspects message content, which keeps it agnostic to the
// signaling protocol layered on top.
package relay
