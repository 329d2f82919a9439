// Package mediasession wraps a pion PeerConnection behind the signaling
// layer's media session abstraction. Descriptions and candidates enter and
// leave as JSON-serialized strings so the signaling layer never depends on
// pion types.
package mediasession
