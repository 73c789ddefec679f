package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ballotwatch/internal/election"
	"ballotwatch/internal/logger"
	"ballotwatch/internal/tui"
	"ballotwatch/internal/txn"
)

func newSubmitCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "submit COMMAND [ARGS...]",
		Short: "Submit one operation and wait for it to confirm",
		Long: `submit validates one operation against the viewer's current role and
session state, sends it, and waits for the ledger to confirm it.

Commands:
  register ADDRESS
  admin ADDRESS
  start SECONDS|DURATION PARTY [PARTY...]
  stop
  vote PARTY`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runSubmit(ctx, cmd, strings.Join(args, " "))
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "how long to wait for confirmation")
	return cmd
}

func runSubmit(ctx context.Context, cmd *cobra.Command, line string) error {
	req, err := tui.ParseCommand(line)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.Console(cfg.Debug)

	l, err := openLedger(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect ledger: %w", err)
	}
	defer l.Close()

	sess := newSession(l, cfg, log)
	defer sess.Close()
	sess.SetViewer(viewerFor(cfg, l))
	if err := sess.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("some facts could not be loaded")
	}

	if _, err := sess.Submit(ctx, req); err != nil {
		var verr *election.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("%s not allowed: %s", req.Kind.Title(), verr.Precondition)
		}
		return err
	}
	rec, err := sess.Wait(ctx, req.Kind)
	if err != nil {
		return fmt.Errorf("gave up waiting for %s (%s): %w", req.Kind.Title(), rec.Handle, err)
	}
	if rec.State == txn.Failed {
		return rec.Err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s confirmed: %s\n", req.Kind.Title(), rec.Handle)
	return nil
}
