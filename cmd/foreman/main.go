package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Foreman - Mining fleet control plane",
	Long: `Foreman is a control plane for ASIC mining fleets: a cloud side that
holds encrypted miner credentials, queues commands, and aggregates
telemetry, and an edge side that runs on-site, executes commands
against miners, and reports back.

Credentials are end-to-end encrypted to each edge device; the cloud
stores ciphertext only.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Foreman version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Add subcommands
	rootCmd.AddCommand(cloudCmd)
	rootCmd.AddCommand(edgeCmd)
	rootCmd.AddCommand(probeCmd)
}
