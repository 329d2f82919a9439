package peer

import "context"

// MediaSession abstracts the underlying peer connection object.
//
// Descriptions and candidates cross this boundary as opaque serialized
// strings; the signaling layer moves them around without interpreting them.
// GatherCandidates blocks until the underlying connection signals that no more
// candidates will be produced, which is what lets a peer ship its description
// and every candidate in one batch.
type MediaSession interface {
	// AddLocalMedia acquires the local media source and attaches its tracks.
	AddLocalMedia(ctx context.Context) error

	CreateOffer(ctx context.Context) (string, error)
	CreateAnswer(ctx context.Context) (string, error)

	SetLocalDescription(description string) error
	SetRemoteDescription(description string) error
	AddRemoteCandidate(candidate string) error

	GatherCandidates(ctx context.Context) ([]string, error)

	Close() error
}
