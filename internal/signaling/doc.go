// Package signaling defines the wire format exchanged between call
// participants through the room relay.
//
// A relay message body is a JSON array of events (an "event batch"). The relay
// itself never parses batches; this package is consumed by peers and tests.
package signaling
