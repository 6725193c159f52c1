// Package cli defines and implements the CLI commands for the harvester
// executable.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Bulk datasheet downloader with resumable progress",
		Long: `harvester retrieves a predetermined list of datasheet URLs into local
storage. It survives restarts without re-fetching settled items, rotates
client identities against anti-automation defenses, and falls back to a
headless browser when direct fetching fails.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml if present)")

	cmd.AddCommand(newRunCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "harvester: %v\n", err)
		os.Exit(1)
	}
}
