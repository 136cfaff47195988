package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	e := &cfg.Engine
	if e.Concurrency == 0 {
		e.Concurrency = 3
	}
	if e.RequiredConfirmations == 0 {
		e.RequiredConfirmations = 6
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = 50
	}
	if e.SchedulerInterval == 0 {
		e.SchedulerInterval = 30 * time.Second
	}
	if e.MonitorInterval == 0 {
		e.MonitorInterval = 5 * time.Minute
	}
	if e.RecheckInterval == 0 {
		e.RecheckInterval = 15 * time.Second
	}
	if e.BroadcastTimeout == 0 {
		e.BroadcastTimeout = 1 * time.Hour
	}
	if e.ForceConfirmWindow == 0 {
		e.ForceConfirmWindow = 15 * time.Minute
	}
	if e.StuckThreshold == 0 {
		e.StuckThreshold = 2 * time.Hour
	}
	if e.BackoffInitial == 0 {
		e.BackoffInitial = 5 * time.Second
	}
	if e.BackoffMax == 0 {
		e.BackoffMax = 5 * time.Minute
	}

	if cfg.Chain.Timeout == 0 {
		cfg.Chain.Timeout = 10 * time.Second
	}
}
