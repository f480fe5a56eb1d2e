package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DBPath   string `envconfig:"HDVAULT_DB_PATH" default:"./data/hdvault.sqlite"`
	Port     int    `envconfig:"HDVAULT_PORT" default:"8090"`
	LogLevel string `envconfig:"HDVAULT_LOG_LEVEL" default:"info"`
	LogDir   string `envconfig:"HDVAULT_LOG_DIR" default:"./logs"`

	SessionTTL        time.Duration `envconfig:"HDVAULT_SESSION_TTL" default:"15m"`
	SessionSweepEvery time.Duration `envconfig:"HDVAULT_SESSION_SWEEP_INTERVAL" default:"30s"`
	MaxUnlockFailures int           `envconfig:"HDVAULT_MAX_UNLOCK_FAILURES" default:"5"`
	UnlockCooldown    time.Duration `envconfig:"HDVAULT_UNLOCK_COOLDOWN" default:"30s"`
	KDFMemoryKiB      uint32        `envconfig:"HDVAULT_KDF_MEMORY_KIB" default:"65536"`
	KDFIterations     uint32        `envconfig:"HDVAULT_KDF_ITERATIONS" default:"3"`
	KDFParallelism    uint8         `envconfig:"HDVAULT_KDF_PARALLELISM" default:"4"`
	AuditBufferSize   int           `envconfig:"HDVAULT_AUDIT_BUFFER" default:"256"`
	DefaultChains     []string      `envconfig:"HDVAULT_DEFAULT_CHAINS" default:"BTC,ETH,SOL"`
}

// Load reads configuration from .env file (if present) then from environment variables.
// Environment variables override .env values.
func Load() (*Config, error) {
	// godotenv does NOT override already-set env vars, so real environment
	// variables take precedence over .env values.
	envFiles := []string{".env"}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				slog.Warn("failed to load .env file", "file", f, "error", err)
			} else {
				slog.Info("loaded .env file", "file", f)
			}
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	for i, c := range cfg.DefaultChains {
		cfg.DefaultChains[i] = strings.ToUpper(strings.TrimSpace(c))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values for correctness.
// KDF costs below the production floor are rejected.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	if c.SessionTTL < MinSessionTTL || c.SessionTTL > MaxSessionTTL {
		return fmt.Errorf("%w: session TTL must be between %s and %s, got %s",
			ErrInvalidConfig, MinSessionTTL, MaxSessionTTL, c.SessionTTL)
	}
	if c.SessionSweepEvery <= 0 {
		return fmt.Errorf("%w: session sweep interval must be positive, got %s", ErrInvalidConfig, c.SessionSweepEvery)
	}
	if c.MaxUnlockFailures < 1 {
		return fmt.Errorf("%w: max unlock failures must be at least 1, got %d", ErrInvalidConfig, c.MaxUnlockFailures)
	}
	if c.UnlockCooldown <= 0 {
		return fmt.Errorf("%w: unlock cooldown must be positive, got %s", ErrInvalidConfig, c.UnlockCooldown)
	}
	if c.KDFMemoryKiB < Argon2MinMemoryKiB {
		return fmt.Errorf("%w: KDF memory must be at least %d KiB, got %d", ErrInvalidConfig, Argon2MinMemoryKiB, c.KDFMemoryKiB)
	}
	if c.KDFIterations < Argon2MinIterations {
		return fmt.Errorf("%w: KDF iterations must be at least %d, got %d", ErrInvalidConfig, Argon2MinIterations, c.KDFIterations)
	}
	if c.KDFParallelism < 1 {
		return fmt.Errorf("%w: KDF parallelism must be at least 1, got %d", ErrInvalidConfig, c.KDFParallelism)
	}
	if c.AuditBufferSize < 1 {
		return fmt.Errorf("%w: audit buffer must be at least 1, got %d", ErrInvalidConfig, c.AuditBufferSize)
	}
	if len(c.DefaultChains) == 0 {
		return fmt.Errorf("%w: at least one default chain is required", ErrInvalidConfig)
	}
	return nil
}
