package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/vidroom/signal-relay/internal/config"
	"github.com/vidroom/signal-relay/internal/mediasession"
	"github.com/vidroom/signal-relay/internal/peer"
)

var (
	flagServerURL string
	flagUsername  string
	flagLogLevel  string
	flagSTUN      string
	flagTURN      string
	flagTURNUser  string
	flagTURNPass  string
)

var joinCmd = &cobra.Command{
	Use:   "join <room-key>",
	Short: "Join a room and run the signaling handshake",
	Long: `Join a room on the relay and negotiate a peer connection with the other
participant.

Examples:
  signal-peer join host1 --username host1 --server ws://localhost:8080
  signal-peer join host1 --username guest1 --server ws://localhost:8080`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(cmd.Context(), args[0])
	},
}

func runJoin(ctx context.Context, roomKey string) error {
	if roomKey == "" {
		return fmt.Errorf("room key cannot be empty")
	}
	if flagUsername == "" {
		return fmt.Errorf("--username is required")
	}

	logger, err := newLogger(flagLogLevel)
	if err != nil {
		return err
	}

	iceServers, err := resolveICEServers(ctx)
	if err != nil {
		return err
	}

	media, err := mediasession.New(mediasession.NewAPI(logger), mediasession.Config{
		ICEServers: iceServers,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("create media session: %w", err)
	}
	defer media.Close()

	transport, err := peer.Dial(ctx, flagServerURL, roomKey)
	if err != nil {
		return err
	}
	defer transport.Close()

	p := peer.New(roomKey, flagUsername, media, transport, logger)
	logger.Info("joined room", "room", roomKey, "role", string(p.Role()))

	if err := p.Run(ctx); err != nil {
		return err
	}
	logger.Info("handshake complete", "state", string(p.State()))
	return nil
}

// resolveICEServers prefers explicit STUN/TURN flags, then the relay's
// /webrtc/ice endpoint, then the default STUN list.
func resolveICEServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	if flagSTUN != "" || flagTURN != "" {
		return config.ParseICEServersFromConvenienceEnv(flagSTUN, flagTURN, flagTURNUser, flagTURNPass)
	}

	if servers, err := fetchICEServers(ctx, flagServerURL); err == nil && len(servers) > 0 {
		return servers, nil
	}

	return []webrtc.ICEServer{{URLs: config.DefaultSTUNURLs}}, nil
}

// fetchICEServers asks the relay for its configured ICE server list.
func fetchICEServers(ctx context.Context, serverURL string) ([]webrtc.ICEServer, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/webrtc/ice"
	u.RawQuery = ""

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ice endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode ice server list: %w", err)
	}
	return body.ICEServers, nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&flagServerURL, "server", "ws://127.0.0.1:8080", "Relay server URL")
	joinCmd.Flags().StringVarP(&flagUsername, "username", "u", "", "Local participant identity")
	joinCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Comma-separated STUN server URLs")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Comma-separated TURN server URLs")
	joinCmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN credential")
}
