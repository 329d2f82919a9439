package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/vidroom/signal-relay/internal/mediasession"
	"github.com/vidroom/signal-relay/internal/metrics"
	"github.com/vidroom/signal-relay/internal/peer"
	"github.com/vidroom/signal-relay/internal/relay"
)

// Full stack: two peers with real pion media sessions complete the handshake
// through the HTTP server's middleware chain and the room relay.
func TestSignalingHandshakeOverRelay(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full-stack signaling test in short mode")
	}

	cfg := testConfig()
	cfg.RoomMemberCap = 2
	cfg.MaxSignalingMessageBytes = 64 * 1024
	cfg.WSIdleTimeout = time.Minute
	cfg.WSPingInterval = 20 * time.Second
	// No STUN: host candidates are enough on loopback and keep the test
	// network-independent.
	cfg.ICEServers = nil

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, log, BuildInfo{})
	ws := relay.NewWebSocketServer(cfg, log, metrics.New())
	srv.Mux().Handle("/", ws)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
	})

	wsBase := "ws://" + ln.Addr().String()
	api := mediasession.NewAPI(log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	newParticipant := func(username string) (*peer.Peer, *peer.WebSocketTransport) {
		t.Helper()
		media, err := mediasession.New(api, mediasession.Config{Logger: log})
		if err != nil {
			t.Fatalf("media session for %s: %v", username, err)
		}
		t.Cleanup(func() { _ = media.Close() })

		transport, err := peer.Dial(ctx, wsBase, "host1")
		if err != nil {
			t.Fatalf("dial for %s: %v", username, err)
		}
		t.Cleanup(func() { _ = transport.Close() })

		return peer.New("host1", username, media, transport, log), transport
	}

	responderCtx, stopResponder := context.WithCancel(ctx)
	defer stopResponder()

	responder, _ := newParticipant("host1")
	responderDone := make(chan error, 1)
	go func() { responderDone <- responder.Run(responderCtx) }()

	// The responder must be in the room before the offer fans out.
	joinDeadline := time.Now().Add(5 * time.Second)
	for ws.Router().RoomCount() == 0 {
		if time.Now().After(joinDeadline) {
			t.Fatal("responder never joined the room")
		}
		time.Sleep(10 * time.Millisecond)
	}

	initiator, _ := newParticipant("guest1")
	if err := initiator.Run(ctx); err != nil {
		t.Fatalf("initiator run: %v", err)
	}
	if initiator.State() != peer.StateConnected {
		t.Fatalf("initiator state=%q, want connected", initiator.State())
	}

	// The responder reached Connected when it sent the answer the initiator
	// just consumed; stop its receive loop.
	stopResponder()
	if err := <-responderDone; err != nil && !strings.Contains(err.Error(), context.Canceled.Error()) {
		t.Fatalf("responder run: %v", err)
	}
	if responder.State() != peer.StateConnected {
		t.Fatalf("responder state=%q, want connected", responder.State())
	}
}
