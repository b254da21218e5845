package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hashpath/foreman/pkg/api"
	"github.com/hashpath/foreman/pkg/audit"
	"github.com/hashpath/foreman/pkg/cloud"
	"github.com/hashpath/foreman/pkg/log"
	"github.com/hashpath/foreman/pkg/telemetry"
)

// cloudConfig is the YAML file behind --config
type cloudConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`
	LogLevel   string `yaml:"log_level"`
	LogJSON    bool   `yaml:"log_json"`
}

func loadCloudConfig(path string) (*cloudConfig, error) {
	cfg := &cloudConfig{
		ListenAddr: ":8080",
		DataDir:    "./foreman-data",
		LogLevel:   "info",
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./foreman-data"
	}
	return cfg, nil
}

var cloudCmd = &cobra.Command{
	Use:   "cloud",
	Short: "Run the cloud control plane",
}

var cloudServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cloud API server and background jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := loadCloudConfig(configPath)
		if err != nil {
			return err
		}

		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}

		store, err := cloud.OpenStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open cloud store: %w", err)
		}
		auditLog, err := audit.Open(cfg.DataDir)
		if err != nil {
			store.Close()
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		tstore, err := telemetry.Open(cfg.DataDir)
		if err != nil {
			auditLog.Close()
			store.Close()
			return fmt.Errorf("failed to open telemetry store: %w", err)
		}

		manager := cloud.NewManager(store, auditLog)

		jobs := telemetry.NewJobs(tstore)
		jobs.Start()
		fmt.Println("✓ Telemetry jobs started")

		server := api.NewServer(manager, tstore)
		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(cfg.ListenAddr); err != nil {
				errCh <- fmt.Errorf("API server error: %w", err)
			}
		}()
		fmt.Printf("✓ API server listening on %s\n", cfg.ListenAddr)

		fmt.Println()
		fmt.Println("Cloud is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "API server shutdown: %v\n", err)
		}
		jobs.Stop()
		tstore.Close()
		auditLog.Close()
		store.Close()

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	cloudCmd.AddCommand(cloudServeCmd)
	cloudServeCmd.Flags().String("config", "", "Path to cloud.yaml")
}
