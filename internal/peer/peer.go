package peer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vidroom/signal-relay/internal/signaling"
)

// Role is decided once, when the peer is created.
type Role string

const (
	// RoleInitiator sends the first offer.
	RoleInitiator Role = "initiator"

	// RoleResponder waits for an offer and replies with an answer. The
	// participant whose username equals the room key is the room's designated
	// host and takes this role.
	RoleResponder Role = "responder"
)

// RoleFor computes the role from the two identity strings.
func RoleFor(roomKey, username string) Role {
	if username == roomKey {
		return RoleResponder
	}
	return RoleInitiator
}

// State of the signaling handshake. Connected is terminal; connectivity events
// after that belong to the media session, not this state machine.
type State string

const (
	StateIdle           State = "idle"
	StateOffering       State = "offering"
	StateAwaitingAnswer State = "awaiting_answer"
	StateAnswering      State = "answering"
	StateConnected      State = "connected"
)

// Transport is the peer's connection to the relay.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Peer drives one participant's side of the two-party handshake.
//
// All methods must be called from a single goroutine; Run does exactly that.
// There is no retry anywhere: a protocol error aborts the handshake and
// surfaces to the caller.
type Peer struct {
	username string
	roomKey  string
	role     Role
	state    State

	media     MediaSession
	transport Transport
	log       *slog.Logger
}

func New(roomKey, username string, media MediaSession, transport Transport, logger *slog.Logger) *Peer {
	if logger == nil {
		logger = slog.Default()
	}
	role := RoleFor(roomKey, username)
	return &Peer{
		username:  username,
		roomKey:   roomKey,
		role:      role,
		state:     StateIdle,
		media:     media,
		transport: transport,
		log:       logger.With("room", roomKey, "username", username, "role", string(role)),
	}
}

func (p *Peer) Role() Role   { return p.role }
func (p *Peer) State() State { return p.state }

// HandleOpen runs the transport-open transition. The initiator produces and
// sends its offer batch; the responder stays idle until an offer arrives.
func (p *Peer) HandleOpen(ctx context.Context) error {
	if p.role != RoleInitiator {
		return nil
	}
	if p.state != StateIdle {
		return fmt.Errorf("transport open in state %q", p.state)
	}

	if err := p.media.AddLocalMedia(ctx); err != nil {
		return fmt.Errorf("acquire local media: %w", err)
	}
	p.state = StateOffering
	p.log.Info("creating offer")

	offer, err := p.media.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.sendDescriptionBatch(ctx, signaling.EventTypeOffer, offer); err != nil {
		return err
	}

	p.state = StateAwaitingAnswer
	p.log.Info("offer sent, awaiting answer")
	return nil
}

// HandleMessage applies one inbound relay payload.
//
// Batches from self never drive transitions; the relay already excludes the
// sender from fan-out, but a misbehaving relay or an overfull room could still
// re-deliver them, so the filter is mandatory here too.
func (p *Peer) HandleMessage(ctx context.Context, payload []byte) error {
	batch, err := signaling.ParseBatch(payload)
	if err != nil {
		return fmt.Errorf("parse signaling message: %w", err)
	}
	if batch.Sender() == p.username {
		p.log.Debug("ignoring self-originated batch")
		return nil
	}

	switch {
	case p.role == RoleResponder && p.state == StateIdle:
		return p.handleOffer(ctx, batch)
	case p.role == RoleInitiator && p.state == StateAwaitingAnswer:
		return p.handleAnswer(batch)
	case p.state == StateConnected:
		// Terminal; late candidates belong to the media layer, which does not
		// expect them in a non-trickle exchange.
		p.log.Debug("ignoring batch after connect", "sender", batch.Sender())
		return nil
	default:
		if _, ok := batch.Description(); ok {
			return fmt.Errorf("%w: role=%s state=%s", ErrUnexpectedDescription, p.role, p.state)
		}
		p.log.Debug("ignoring candidate-only batch", "state", string(p.state))
		return nil
	}
}

func (p *Peer) handleOffer(ctx context.Context, batch signaling.Batch) error {
	desc, ok := batch.Description()
	if !ok || desc.Type != signaling.EventTypeOffer {
		return fmt.Errorf("%w: responder needs an offer", ErrMissingDescription)
	}

	p.state = StateAnswering
	p.log.Info("offer received", "from", desc.Sender)

	if err := p.media.AddLocalMedia(ctx); err != nil {
		return fmt.Errorf("acquire local media: %w", err)
	}
	if err := p.media.SetRemoteDescription(desc.SessionDescription); err != nil {
		return fmt.Errorf("apply remote offer: %w", err)
	}
	if err := p.applyRemoteCandidates(batch); err != nil {
		return err
	}

	answer, err := p.media.CreateAnswer(ctx)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := p.sendDescriptionBatch(ctx, signaling.EventTypeAnswer, answer); err != nil {
		return err
	}

	p.state = StateConnected
	p.log.Info("answer sent, connected")
	return nil
}

func (p *Peer) handleAnswer(batch signaling.Batch) error {
	desc, ok := batch.Description()
	if !ok || desc.Type != signaling.EventTypeAnswer {
		return fmt.Errorf("%w: initiator needs an answer", ErrMissingDescription)
	}

	if err := p.media.SetRemoteDescription(desc.SessionDescription); err != nil {
		return fmt.Errorf("apply remote answer: %w", err)
	}
	if err := p.applyRemoteCandidates(batch); err != nil {
		return err
	}

	p.state = StateConnected
	p.log.Info("answer received, connected", "from", desc.Sender)
	return nil
}

func (p *Peer) applyRemoteCandidates(batch signaling.Batch) error {
	for _, c := range batch.Candidates(p.username) {
		if err := p.media.AddRemoteCandidate(c); err != nil {
			return fmt.Errorf("apply remote candidate: %w", err)
		}
	}
	return nil
}

// sendDescriptionBatch applies the local description, gathers every candidate,
// and ships description plus candidates as one batch.
func (p *Peer) sendDescriptionBatch(ctx context.Context, t signaling.EventType, description string) error {
	if err := p.media.SetLocalDescription(description); err != nil {
		return fmt.Errorf("apply local description: %w", err)
	}
	candidates, err := p.media.GatherCandidates(ctx)
	if err != nil {
		return fmt.Errorf("gather candidates: %w", err)
	}

	batch, err := signaling.NewDescriptionBatch(t, p.username, description, candidates)
	if err != nil {
		return err
	}
	payload, err := batch.Marshal()
	if err != nil {
		return fmt.Errorf("encode %s batch: %w", t, err)
	}
	if err := p.transport.Send(ctx, payload); err != nil {
		return fmt.Errorf("send %s batch: %w", t, err)
	}
	return nil
}

// Run drives the peer until the handshake completes, the transport ends, or a
// protocol error aborts it. The initiator returns once Connected; the
// responder keeps serving until its transport closes so a late-joining
// initiator still gets an answer.
func (p *Peer) Run(ctx context.Context) error {
	if err := p.HandleOpen(ctx); err != nil {
		return err
	}

	for {
		if p.role == RoleInitiator && p.state == StateConnected {
			return nil
		}

		payload, err := p.transport.Receive(ctx)
		if err != nil {
			if p.state == StateConnected {
				return nil
			}
			return fmt.Errorf("receive signaling message: %w", err)
		}
		if err := p.HandleMessage(ctx, payload); err != nil {
			return err
		}
	}
}
