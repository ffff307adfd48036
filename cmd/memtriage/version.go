package memtriage

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memtriage/memtriage/internal/update"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the memtriage version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "memtriage %s\n", version)
			if latest, newer, _ := update.Check(version, flagNoUpdateCheck); newer {
				fmt.Fprintf(out, "A newer version is available: %s (run `memtriage update`)\n", latest)
			}
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "update",
		Short: "Update memtriage to the latest release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := selfUpdate()
			if err != nil {
				return fmt.Errorf("self-update failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "memtriage is at %s\n", v)
			return nil
		},
	})
}
