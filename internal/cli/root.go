// Package cli implements the igdb-pipeline command tree.
package cli

import (
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "igdb-pipeline",
		Short: "IGDB catalog extraction pipeline",
		Long: `igdb-pipeline extracts the IGDB game catalog into an object store:
dimensions and popularity snapshots first, then the games fact table,
with rate-limited concurrent page fetches and idempotent partition writes.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.AddCommand(newRunCmd(), newStateCmd())

	return rootCmd
}
