package mediasession

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// NewAPI builds the webrtc API every session is created from, with pion's
// internal logging routed through slog.
func NewAPI(logger *slog.Logger) *webrtc.API {
	if logger == nil {
		logger = slog.Default()
	}
	se := webrtc.SettingEngine{
		LoggerFactory: slogLoggerFactory{base: logger},
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

// TrackSink receives remote media tracks. It is the opaque media sink; the
// session only forwards what pion delivers.
type TrackSink func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

type Config struct {
	ICEServers []webrtc.ICEServer
	OnTrack    TrackSink
	Logger     *slog.Logger
}

// Session implements the signaling layer's media session over a pion
// PeerConnection.
//
// Candidates are accumulated from OnICECandidate as they trickle out of pion;
// GatherCandidates blocks until gathering completes and returns the whole set,
// which is what makes the exchange non-trickle on the wire.
type Session struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger

	mu         sync.Mutex
	candidates []string
}

func New(api *webrtc.API, cfg Config) (*Session, error) {
	if api == nil {
		api = webrtc.NewAPI()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	s := &Session{pc: pc, log: logger}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		encoded, err := json.Marshal(c.ToJSON())
		if err != nil {
			s.log.Error("encode ice candidate", "err", err)
			return
		}
		s.mu.Lock()
		s.candidates = append(s.candidates, string(encoded))
		s.mu.Unlock()
	})

	if cfg.OnTrack != nil {
		pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
			s.log.Info("remote track", "kind", track.Kind().String(), "id", track.ID())
			cfg.OnTrack(track, receiver)
		})
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.Info("connection state changed", "state", state.String())
	})

	return s, nil
}

// AddLocalMedia attaches audio and video transceivers. A headless participant
// has no capture device, so the transceivers are what advertises media intent
// in the offer; a browser peer streams into them.
func (s *Session) AddLocalMedia(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := s.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind.String(), err)
		}
	}
	return nil
}

func (s *Session) CreateOffer(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	return encodeDescription(offer)
}

func (s *Session) CreateAnswer(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	return encodeDescription(answer)
}

func (s *Session) SetLocalDescription(description string) error {
	desc, err := decodeDescription(description)
	if err != nil {
		return err
	}
	if err := s.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return nil
}

func (s *Session) SetRemoteDescription(description string) error {
	desc, err := decodeDescription(description)
	if err != nil {
		return err
	}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (s *Session) AddRemoteCandidate(candidate string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		return fmt.Errorf("decode ice candidate: %w", err)
	}
	if err := s.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// GatherCandidates blocks until pion signals that no more candidates will be
// produced, then returns every candidate gathered so far.
func (s *Session) GatherCandidates(ctx context.Context) ([]string, error) {
	select {
	case <-webrtc.GatheringCompletePromise(s.pc):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.candidates))
	copy(out, s.candidates)
	return out, nil
}

func (s *Session) Close() error {
	return s.pc.Close()
}

func encodeDescription(desc webrtc.SessionDescription) (string, error) {
	encoded, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("encode session description: %w", err)
	}
	return string(encoded), nil
}

func decodeDescription(description string) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(description), &desc); err != nil {
		return desc, fmt.Errorf("decode session description: %w", err)
	}
	return desc, nil
}
