package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "./config.json"

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "promptclock",
		Short:         "Daily workflow scheduler with rotation and seed helpers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "path to config json/yaml")

	root.AddCommand(
		newServeCmd(&cfgPath),
		newRotateCmd(&cfgPath),
		newRotateResetCmd(&cfgPath),
		newSeedsCmd(),
		newCheckConfigCmd(&cfgPath),
	)
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
