package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"promptclock/internal/config"
)

func newCheckConfigCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Parse and validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.ParseFile(*cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			wc := cfg.WithDefaults()
			storage := "none"
			if wc.Storage != nil && strings.TrimSpace(wc.Storage.Driver) != "" {
				storage = wc.Storage.Driver
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: server=%s backend=%s storage=%s\n", wc.Server.ListenAddr(), wc.Backend.BaseURL, storage)
			return nil
		},
	}
}
