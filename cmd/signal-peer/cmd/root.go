package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "signal-peer",
	Short: "Headless participant for the room signaling relay",
	Long: `signal-peer connects to a signal-relay server as one participant of a
two-party call and runs the offer/answer handshake. The participant whose
username equals the room key acts as the responder; everyone else initiates.`,
}

// Execute runs the root command. Called once from main.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
