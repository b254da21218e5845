package edge

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"
)

// MinerMode selects the adapter implementation
type MinerMode string

const (
	ModeSimulated MinerMode = "simulated"
	ModeCGMiner   MinerMode = "cgminer"
)

// Config is the edge runtime configuration, read from the environment
type Config struct {
	DeviceID         string
	SiteID           string
	APIBaseURL       string
	AuthToken        string
	MinerMode        MinerMode
	ExecutionEnabled bool
	PollInterval     time.Duration
	DataDir          string

	// PrivateKey is the device's X25519 secret key for opening sealed
	// envelopes, base64 in EDGE_PRIVATE_KEY
	PrivateKey [32]byte
	HasKey     bool

	// SiteMasterPassphrase enables the PBKDF2 flow when set. Held in
	// memory only; never logged.
	SiteMasterPassphrase string
}

// ConfigFromEnv builds the runtime config from environment variables
func ConfigFromEnv() (*Config, error) {
	cfg := &Config{
		DeviceID:             os.Getenv("EDGE_DEVICE_ID"),
		SiteID:               os.Getenv("EDGE_SITE_ID"),
		APIBaseURL:           os.Getenv("EDGE_API_BASE_URL"),
		AuthToken:            os.Getenv("EDGE_AUTH_TOKEN"),
		MinerMode:            MinerMode(os.Getenv("EDGE_MINER_MODE")),
		PollInterval:         5 * time.Second,
		DataDir:              os.Getenv("EDGE_DATA_DIR"),
		SiteMasterPassphrase: os.Getenv("SITE_MASTER_PASSPHRASE"),
	}

	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("EDGE_DEVICE_ID is required")
	}
	if cfg.SiteID == "" {
		return nil, fmt.Errorf("EDGE_SITE_ID is required")
	}
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("EDGE_API_BASE_URL is required")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("EDGE_AUTH_TOKEN is required")
	}

	switch cfg.MinerMode {
	case "":
		cfg.MinerMode = ModeSimulated
	case ModeSimulated, ModeCGMiner:
	default:
		return nil, fmt.Errorf("EDGE_MINER_MODE must be simulated or cgminer, got %q", cfg.MinerMode)
	}

	if v := os.Getenv("EDGE_EXECUTION_ENABLED"); v != "" {
		cfg.ExecutionEnabled = v == "true" || v == "1"
	}

	if v := os.Getenv("EDGE_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("EDGE_POLL_INTERVAL: %w", err)
		}
		if d < time.Second {
			return nil, fmt.Errorf("EDGE_POLL_INTERVAL must be at least 1s")
		}
		cfg.PollInterval = d
	}

	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}

	if v := os.Getenv("EDGE_PRIVATE_KEY"); v != "" {
		raw, err := base64.StdEncoding.DecodeString(v)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("EDGE_PRIVATE_KEY must be base64 of 32 bytes")
		}
		copy(cfg.PrivateKey[:], raw)
		cfg.HasKey = true
	}

	return cfg, nil
}
