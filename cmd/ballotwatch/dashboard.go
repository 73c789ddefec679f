package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"ballotwatch/internal/gate"
	"ballotwatch/internal/journal"
	"ballotwatch/internal/logger"
	"ballotwatch/internal/registry"
	"ballotwatch/internal/status"
	"ballotwatch/internal/tui"
)

const (
	// tuiCloseDelay bounds how long shutdown waits for the TUI to exit.
	tuiCloseDelay = 500 * time.Millisecond
	// tickInterval refreshes time-dependent parts of the dashboard.
	tickInterval = time.Second
)

func newDashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Open the live election dashboard (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDashboard(cmd.Context())
		},
	}
}

func runDashboard(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.NewWithWriter(cfg.Debug, openLogFile(cfg))

	fmt.Printf("ballotwatch starting...\n")
	fmt.Printf("Config loaded: %s\n", cfg.DebugString())
	fmt.Printf("Loading...\n")

	gormDB, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer closeDatabase(gormDB)

	l, err := openLedger(parent, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect ledger: %w", err)
	}
	defer l.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sess := newSession(l, cfg, log)
	hub := status.NewHub()
	sess.OnNotification(hub.Broadcast)

	var wg sync.WaitGroup
	if gormDB != nil {
		j := journal.New(journal.NewGormStore(gormDB), log)
		j.Attach(sess)
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.Run(ctx)
		}()
	}

	if cfg.StatusAddr != "" {
		var reg status.Registrar
		if gormDB != nil {
			reg = registry.NewStore(gormDB, log)
		}
		srv := status.NewServer(sess, reg, hub, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx, cfg.StatusAddr); err != nil {
				log.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	// Changes are coalesced: the pusher renders at most one snapshot per
	// signal and once per tick for countdowns.
	dirty := make(chan struct{}, 1)
	sess.OnChange(func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	})
	updates := make(chan tui.Snapshot, 1)
	var pusher sync.WaitGroup
	pusher.Add(1)
	go func() {
		defer pusher.Done()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			snap := tui.Snapshot{View: sess.View(), Notifications: sess.Notifications(), At: time.Now()}
			select {
			case updates <- snap:
			case <-ctx.Done():
				return
			}
			select {
			case <-dirty:
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	submit := func(req gate.Request) error {
		_, err := sess.Submit(ctx, req)
		return err
	}
	tuiDone := make(chan struct{})
	go func() {
		defer close(tuiDone)
		if err := tui.Run(updates, submit); err != nil {
			log.Error().Err(err).Msg("TUI error")
		}
		// TUI exited, cancel context to trigger shutdown
		cancel()
	}()

	if err := sess.Start(ctx); err != nil {
		return err
	}
	sess.SetViewer(viewerFor(cfg, l))

	<-ctx.Done()
	log.Info().Msg("shutting down...")

	// Close the session first: this releases subscriptions and abandons
	// confirmation waits.
	sess.Close()
	pusher.Wait()
	close(updates)
	select {
	case <-tuiDone:
	case <-time.After(tuiCloseDelay):
	}
	wg.Wait()
	return nil
}
