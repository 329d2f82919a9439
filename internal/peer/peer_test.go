package peer

import (
	"context"
	"errors"
	"testing"

	"github.com/vidroom/signal-relay/internal/signaling"
)

type fakeMedia struct {
	offer      string
	answer     string
	candidates []string

	mediaAdded       bool
	localDescription string
	remoteDesc       string
	remoteCandidates []string
	closed           bool

	gatherErr error
}

func (f *fakeMedia) AddLocalMedia(context.Context) error { f.mediaAdded = true; return nil }

func (f *fakeMedia) CreateOffer(context.Context) (string, error)  { return f.offer, nil }
func (f *fakeMedia) CreateAnswer(context.Context) (string, error) { return f.answer, nil }

func (f *fakeMedia) SetLocalDescription(d string) error  { f.localDescription = d; return nil }
func (f *fakeMedia) SetRemoteDescription(d string) error { f.remoteDesc = d; return nil }

func (f *fakeMedia) AddRemoteCandidate(c string) error {
	f.remoteCandidates = append(f.remoteCandidates, c)
	return nil
}

func (f *fakeMedia) GatherCandidates(context.Context) ([]string, error) {
	if f.gatherErr != nil {
		return nil, f.gatherErr
	}
	return f.candidates, nil
}

func (f *fakeMedia) Close() error { f.closed = true; return nil }

// pipeTransport links two peers through in-memory queues.
type pipeTransport struct {
	in  chan []byte
	out chan []byte
}

func newTransportPair() (*pipeTransport, *pipeTransport) {
	ab := make(chan []byte, 8)
	ba := make(chan []byte, 8)
	return &pipeTransport{in: ba, out: ab}, &pipeTransport{in: ab, out: ba}
}

func (p *pipeTransport) Send(ctx context.Context, payload []byte) error {
	select {
	case p.out <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-p.in:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeTransport) Close() error { return nil }

func TestRoleFor(t *testing.T) {
	tests := []struct {
		roomKey  string
		username string
		want     Role
	}{
		{"host1", "host1", RoleResponder},
		{"host1", "guest1", RoleInitiator},
		{"room", "", RoleInitiator},
	}
	for _, tt := range tests {
		if got := RoleFor(tt.roomKey, tt.username); got != tt.want {
			t.Errorf("RoleFor(%q, %q)=%q, want %q", tt.roomKey, tt.username, got, tt.want)
		}
	}
}

func TestInitiatorHandleOpenSendsOfferBatch(t *testing.T) {
	ctx := context.Background()
	ti, tr := newTransportPair()
	media := &fakeMedia{offer: "offer-sdp", candidates: []string{"c1", "c2"}}

	p := New("host1", "guest1", media, ti, nil)
	if p.Role() != RoleInitiator {
		t.Fatalf("role=%q", p.Role())
	}

	if err := p.HandleOpen(ctx); err != nil {
		t.Fatalf("handle open: %v", err)
	}
	if p.State() != StateAwaitingAnswer {
		t.Fatalf("state=%q, want awaiting_answer", p.State())
	}
	if !media.mediaAdded {
		t.Fatal("local media never acquired")
	}
	if media.localDescription != "offer-sdp" {
		t.Fatalf("local description=%q", media.localDescription)
	}

	payload, err := tr.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	batch, err := signaling.ParseBatch(payload)
	if err != nil {
		t.Fatalf("parse sent batch: %v", err)
	}
	desc, ok := batch.Description()
	if !ok || desc.Type != signaling.EventTypeOffer || desc.Sender != "guest1" {
		t.Fatalf("description=%+v, %v", desc, ok)
	}
	if got := batch.Candidates("host1"); len(got) != 2 {
		t.Fatalf("candidates=%v, want 2", got)
	}
}

func TestResponderHandleOpenIsPassive(t *testing.T) {
	ti, _ := newTransportPair()
	media := &fakeMedia{}

	p := New("host1", "host1", media, ti, nil)
	if err := p.HandleOpen(context.Background()); err != nil {
		t.Fatalf("handle open: %v", err)
	}
	if p.State() != StateIdle {
		t.Fatalf("state=%q, want idle", p.State())
	}
	if media.mediaAdded {
		t.Fatal("responder acquired media before receiving an offer")
	}
}

func TestTwoPartyHandshake(t *testing.T) {
	ctx := context.Background()
	ti, tr := newTransportPair()

	guestMedia := &fakeMedia{offer: "S1", candidates: []string{"C1"}}
	hostMedia := &fakeMedia{answer: "S2", candidates: []string{"C2"}}

	guest := New("host1", "guest1", guestMedia, ti, nil)
	host := New("host1", "host1", hostMedia, tr, nil)

	if err := guest.HandleOpen(ctx); err != nil {
		t.Fatalf("guest open: %v", err)
	}

	offerPayload, err := tr.Receive(ctx)
	if err != nil {
		t.Fatalf("host receive: %v", err)
	}
	if err := host.HandleMessage(ctx, offerPayload); err != nil {
		t.Fatalf("host handle offer: %v", err)
	}
	if host.State() != StateConnected {
		t.Fatalf("host state=%q, want connected", host.State())
	}
	if hostMedia.remoteDesc != "S1" {
		t.Fatalf("host remote description=%q, want S1", hostMedia.remoteDesc)
	}
	if len(hostMedia.remoteCandidates) != 1 || hostMedia.remoteCandidates[0] != "C1" {
		t.Fatalf("host remote candidates=%v, want [C1]", hostMedia.remoteCandidates)
	}

	answerPayload, err := ti.Receive(ctx)
	if err != nil {
		t.Fatalf("guest receive: %v", err)
	}
	if err := guest.HandleMessage(ctx, answerPayload); err != nil {
		t.Fatalf("guest handle answer: %v", err)
	}
	if guest.State() != StateConnected {
		t.Fatalf("guest state=%q, want connected", guest.State())
	}
	if guestMedia.remoteDesc != "S2" {
		t.Fatalf("guest remote description=%q, want S2", guestMedia.remoteDesc)
	}
	if len(guestMedia.remoteCandidates) != 1 || guestMedia.remoteCandidates[0] != "C2" {
		t.Fatalf("guest remote candidates=%v, want [C2]", guestMedia.remoteCandidates)
	}
}

func TestResponderRejectsBatchWithoutOffer(t *testing.T) {
	_, tr := newTransportPair()
	media := &fakeMedia{}
	p := New("host1", "host1", media, tr, nil)

	payload := []byte(`[{"type":"candidate","sender":"x","candidate":"c"}]`)
	err := p.HandleMessage(context.Background(), payload)
	if !errors.Is(err, ErrMissingDescription) {
		t.Fatalf("err=%v, want ErrMissingDescription", err)
	}
	if p.State() != StateIdle {
		t.Fatalf("state=%q, aborted handshake must not transition", p.State())
	}
	if media.mediaAdded {
		t.Fatal("media acquired for an invalid batch")
	}
}

func TestInitiatorRejectsBatchWithoutAnswer(t *testing.T) {
	ti, tr := newTransportPair()
	p := New("host1", "guest1", &fakeMedia{offer: "S1"}, ti, nil)

	ctx := context.Background()
	if err := p.HandleOpen(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := tr.Receive(ctx); err != nil {
		t.Fatalf("drain offer: %v", err)
	}

	payload := []byte(`[{"type":"candidate","sender":"host1","candidate":"c"}]`)
	err := p.HandleMessage(ctx, payload)
	if !errors.Is(err, ErrMissingDescription) {
		t.Fatalf("err=%v, want ErrMissingDescription", err)
	}
	if p.State() != StateAwaitingAnswer {
		t.Fatalf("state=%q", p.State())
	}
}

func TestHandleMessageRejectsMalformedPayload(t *testing.T) {
	_, tr := newTransportPair()
	p := New("host1", "host1", &fakeMedia{}, tr, nil)

	for _, payload := range []string{`not json`, `[{"type":"hangup","sender":"x"}]`} {
		if err := p.HandleMessage(context.Background(), []byte(payload)); err == nil {
			t.Fatalf("payload %q accepted", payload)
		}
	}
	if p.State() != StateIdle {
		t.Fatalf("state=%q", p.State())
	}
}

func TestSelfOriginatedBatchIsIgnored(t *testing.T) {
	_, tr := newTransportPair()
	media := &fakeMedia{}
	p := New("host1", "host1", media, tr, nil)

	payload := []byte(`[{"type":"offer","sender":"host1","sessionDescription":"S1"},` +
		`{"type":"candidate","sender":"host1","candidate":"C1"}]`)
	if err := p.HandleMessage(context.Background(), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if p.State() != StateIdle {
		t.Fatalf("state=%q, self batch must not drive transitions", p.State())
	}
	if media.mediaAdded || len(media.remoteCandidates) != 0 {
		t.Fatal("self batch applied to media session")
	}
}

func TestRunInitiatorCompletesHandshake(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ti, tr := newTransportPair()
	guest := New("host1", "guest1", &fakeMedia{offer: "S1", candidates: []string{"C1"}}, ti, nil)
	host := New("host1", "host1", &fakeMedia{answer: "S2", candidates: []string{"C2"}}, tr, nil)

	hostDone := make(chan error, 1)
	go func() { hostDone <- host.Run(ctx) }()

	if err := guest.Run(ctx); err != nil {
		t.Fatalf("guest run: %v", err)
	}
	if guest.State() != StateConnected {
		t.Fatalf("guest state=%q", guest.State())
	}

	cancel()
	if err := <-hostDone; err != nil {
		t.Fatalf("host run: %v", err)
	}
	if host.State() != StateConnected {
		t.Fatalf("host state=%q", host.State())
	}
}
