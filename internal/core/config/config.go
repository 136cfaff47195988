package config

import (
	"time"

	chainclient "github.com/vietddude/reconciler/internal/infra/chain"
	"github.com/vietddude/reconciler/internal/infra/notify"
	redisclient "github.com/vietddude/reconciler/internal/infra/redis"
	"github.com/vietddude/reconciler/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Engine   EngineConfig       `yaml:"engine"`
	Chain    chainclient.Config `yaml:"chain"`
	Redis    redisclient.Config `yaml:"redis"`
	Notify   notify.Config      `yaml:"notify"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds admin HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// EngineConfig holds the reconciliation policy constants.
type EngineConfig struct {
	Concurrency           int           `yaml:"concurrency"`             // polling worker pool size
	RequiredConfirmations uint64        `yaml:"required_confirmations"`  // default threshold for new transactions
	MaxRetries            int           `yaml:"max_retries"`             // poll attempts before POLLING_TIMEOUT
	SchedulerInterval     time.Duration `yaml:"scheduler_interval"`      // reconciliation sweep tick
	MonitorInterval       time.Duration `yaml:"monitor_interval"`        // stuck-transaction sweep tick
	RecheckInterval       time.Duration `yaml:"recheck_interval"`        // min gap between polls of one transaction
	BroadcastTimeout      time.Duration `yaml:"broadcast_timeout"`       // max wait for a chain tx id to appear
	ForceConfirmWindow    time.Duration `yaml:"force_confirm_window"`    // confirming age before degraded-tip fallback
	StuckThreshold        time.Duration `yaml:"stuck_threshold"`         // confirming age before monitor escalation
	RetentionPeriod       time.Duration `yaml:"retention_period"`        // 0 = keep terminal transactions forever
	BackoffInitial        time.Duration `yaml:"backoff_initial"`         // first re-enqueue delay
	BackoffMax            time.Duration `yaml:"backoff_max"`             // re-enqueue delay cap
}
