package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hashpath/foreman/pkg/edge"
	"github.com/hashpath/foreman/pkg/log"
)

var edgeCmd = &cobra.Command{
	Use:   "edge",
	Short: "Run the on-site edge device",
}

var edgeRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the edge loops (configured via EDGE_* environment variables)",
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel, _ := cmd.Flags().GetString("log-level")
		log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: true})

		cfg, err := edge.ConfigFromEnv()
		if err != nil {
			return err
		}

		runner, err := edge.NewRunner(cfg)
		if err != nil {
			return fmt.Errorf("failed to start edge: %w", err)
		}

		runner.Start()
		fmt.Printf("✓ Edge running for site %s. Press Ctrl+C to stop.\n", cfg.SiteID)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		runner.Stop()
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	edgeCmd.AddCommand(edgeRunCmd)
	edgeRunCmd.Flags().String("log-level", "info", "Log level (debug|info|warn|error)")
}
