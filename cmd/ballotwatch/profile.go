package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ballotwatch/internal/logger"
	"ballotwatch/internal/registry"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile SUBCOMMAND",
		Short: "Manage off-ledger voter profiles",
	}
	cmd.AddCommand(newProfileRegisterCmd(), newProfileShowCmd())
	return cmd
}

func newProfileRegisterCmd() *cobra.Command {
	var p registry.Profile
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Store a voter's identity profile",
		Long: `register stores the identity profile that accompanies a voter
registration. The chain address defaults to VIEWER_ADDRESS. Requires DATABASE_URL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger.Console(cfg.Debug)
			if p.ChainAddress == "" {
				p.ChainAddress = cfg.Viewer
			}

			gormDB, err := openDatabase(cfg, log)
			if err != nil {
				return err
			}
			if gormDB == nil {
				return errors.New("profile registration requires DATABASE_URL")
			}
			defer closeDatabase(gormDB)

			row, err := registry.NewStore(gormDB, log).Register(cmd.Context(), p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "profile %d registered for %s\n", row.ID, row.ChainAddress)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&p.Name, "name", "", "full name")
	f.StringVar(&p.TaxID, "tax-id", "", "tax id, up to 14 characters")
	f.StringVar(&p.Email, "email", "", "email address")
	f.StringVar(&p.ChainAddress, "chain-address", "", "voter's chain address")
	f.StringVar(&p.ResidentialAddress, "address", "", "residential address")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("tax-id")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func newProfileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [CHAIN_ADDRESS]",
		Short: "Print the profile bound to a chain address",
		Long: `show prints the stored profile for CHAIN_ADDRESS, or for VIEWER_ADDRESS
when no address is given. Requires DATABASE_URL.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			addr := cfg.Viewer
			if len(args) == 1 {
				addr = args[0]
			}
			if addr == "" {
				return errors.New("no chain address given and VIEWER_ADDRESS is unset")
			}
			log := logger.Console(cfg.Debug)

			gormDB, err := openDatabase(cfg, log)
			if err != nil {
				return err
			}
			if gormDB == nil {
				return errors.New("profile lookup requires DATABASE_URL")
			}
			defer closeDatabase(gormDB)

			row, err := registry.NewStore(gormDB, log).Lookup(cmd.Context(), addr)
			if errors.Is(err, registry.ErrNotFound) {
				return fmt.Errorf("no profile for %s", addr)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:    %s\n", row.Name)
			fmt.Fprintf(out, "Tax ID:  %s\n", row.TaxID)
			fmt.Fprintf(out, "Email:   %s\n", row.Email)
			fmt.Fprintf(out, "Chain:   %s\n", row.ChainAddress)
			fmt.Fprintf(out, "Address: %s\n", row.ResidentialAddress)
			return nil
		},
	}
}
