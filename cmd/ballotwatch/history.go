package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ballotwatch/internal/journal"
	"ballotwatch/internal/logger"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit int
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print journaled notifications, newest first",
		Long: `history prints notifications recorded by earlier dashboard runs for
VIEWER_ADDRESS, or for every viewer with --all. Requires DATABASE_URL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}
			log := logger.Console(cfg.Debug)

			gormDB, err := openDatabase(cfg, log)
			if err != nil {
				return err
			}
			if gormDB == nil {
				return errors.New("history requires DATABASE_URL")
			}
			defer closeDatabase(gormDB)

			viewer := cfg.Viewer
			if all {
				viewer = ""
			}
			rows, err := journal.NewGormStore(gormDB).RecentNotifications(cmd.Context(), viewer, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, n := range rows {
				fmt.Fprintf(out, "%s  %-16s %s\n", n.At.Local().Format("2006-01-02 15:04:05"), n.Kind, n.Message)
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "no notifications recorded")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of notifications")
	cmd.Flags().BoolVar(&all, "all", false, "include every viewer")
	return cmd
}
