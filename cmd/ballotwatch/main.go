// Package main provides the entry point for the ballotwatch election client.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := mainE(); err != nil {
		os.Exit(1)
	}
}

func mainE() error {
	// Try to load .env from CWD if present; otherwise use environment as-is
	if _, statErr := os.Stat(".env"); statErr == nil {
		_ = godotenv.Load(".env")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		_ = os.Stderr.Sync()
		return err
	}
	return nil
}

// NewRootCmd builds the command tree. Running the root without a
// subcommand opens the dashboard.
func NewRootCmd() *cobra.Command {
	dashboard := newDashboardCmd()
	rootCmd := &cobra.Command{
		Use: "ballotwatch [SUBCOMMAND]",

		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},

		Short: "Client for an on-ledger election contract",
		Long: `ballotwatch follows an election contract on an EVM chain or a CometBFT
application chain, keeps the viewer's role and the current voting session in
sync with the ledger's events, and submits the admin and voter operations.

Configuration is read from the environment (and .env in the working directory).`,

		SilenceUsage: true,
		RunE:         dashboard.RunE,
	}

	rootCmd.AddCommand(
		dashboard,
		newSubmitCmd(),
		newProfileCmd(),
		newHistoryCmd(),
	)
	return rootCmd
}
