package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"promptclock/internal/seedlist"
)

func newSeedsCmd() *cobra.Command {
	var (
		count int
		at    string
	)
	cmd := &cobra.Command{
		Use:   "seeds",
		Short: "Print a seed list derived from the time of day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.TimeOnly, at)
				if err != nil {
					return fmt.Errorf("--at: want HH:MM:SS: %w", err)
				}
				now = time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), t.Second(), 0, now.Location())
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"time_seed": seedlist.TimeSeed(now),
				"seeds":     seedlist.Generator{}.Generate(count, now),
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of seeds")
	cmd.Flags().StringVar(&at, "at", "", "time of day HH:MM:SS (default now)")
	return cmd
}
