package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"promptclock/internal/app"
	"promptclock/internal/rotation"
)

func newRotateCmd(cfgPath *string) *cobra.Command {
	var (
		count int
		mode  string
	)
	cmd := &cobra.Command{
		Use:   "rotate <source>",
		Short: "Print today's selection from a text source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := rotation.ParseMode(mode)
			if err != nil {
				return err
			}
			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Control().Rotation(cmd.Context(), args[0], count, m)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "items per day")
	cmd.Flags().StringVarP(&mode, "mode", "m", "sequential", "random or sequential")
	return cmd
}

func newRotateResetCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-reset <source>",
		Short: "Forget the sequential anchor of a text source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Control().ResetRotation(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rotation %s reset\n", args[0])
			return nil
		},
	}
}
