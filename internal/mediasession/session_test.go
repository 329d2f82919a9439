package mediasession

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(NewAPI(testLogger()), Config{Logger: testLogger()})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOfferIsDoubleEncoded(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)

	if err := s.AddLocalMedia(ctx); err != nil {
		t.Fatalf("add local media: %v", err)
	}
	offer, err := s.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(offer), &desc); err != nil {
		t.Fatalf("offer is not a serialized description: %v", err)
	}
	if desc.Type != webrtc.SDPTypeOffer || desc.SDP == "" {
		t.Fatalf("decoded description: type=%v sdp empty=%v", desc.Type, desc.SDP == "")
	}
}

func TestOfferAnswerExchange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	initiator := newTestSession(t)
	responder := newTestSession(t)

	if err := initiator.AddLocalMedia(ctx); err != nil {
		t.Fatalf("initiator media: %v", err)
	}
	offer, err := initiator.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if err := initiator.SetLocalDescription(offer); err != nil {
		t.Fatalf("set local offer: %v", err)
	}
	offerCandidates, err := initiator.GatherCandidates(ctx)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(offerCandidates) == 0 {
		t.Fatal("no candidates gathered for offer")
	}

	if err := responder.SetRemoteDescription(offer); err != nil {
		t.Fatalf("set remote offer: %v", err)
	}
	for _, c := range offerCandidates {
		if err := responder.AddRemoteCandidate(c); err != nil {
			t.Fatalf("add remote candidate: %v", err)
		}
	}
	answer, err := responder.CreateAnswer(ctx)
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}
	if err := responder.SetLocalDescription(answer); err != nil {
		t.Fatalf("set local answer: %v", err)
	}
	if _, err := responder.GatherCandidates(ctx); err != nil {
		t.Fatalf("responder gather: %v", err)
	}

	if err := initiator.SetRemoteDescription(answer); err != nil {
		t.Fatalf("set remote answer: %v", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	s := newTestSession(t)

	if err := s.SetRemoteDescription("not json"); err == nil {
		t.Fatal("malformed description accepted")
	}
	if err := s.AddRemoteCandidate("not json"); err == nil {
		t.Fatal("malformed candidate accepted")
	}
}

func TestGatherCandidatesHonorsContext(t *testing.T) {
	s := newTestSession(t)

	// Gathering never starts without a local description, so the promise only
	// resolves via the context.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.GatherCandidates(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
