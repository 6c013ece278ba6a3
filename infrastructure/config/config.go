// Package config provides environment-aware configuration management.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensciencearchive/server/infrastructure/errors"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	Env Environment

	// Node identity: the SRN domain this node mints identifiers under.
	NodeDomain string

	// Database
	DatabaseURL      string
	DBMaxConnections int
	DBIdleTimeout    time.Duration

	// Data directory for deposition files and hook workspaces.
	DataDir string
	// Host path of DataDir when running as a sibling container with the
	// Docker socket mounted. Empty means paths need no translation.
	HostDataDir string

	// Node file declaring conventions, hooks, and sources.
	NodeFile string

	// Worker defaults (per-handler overrides live on the handler).
	WorkerPollInterval time.Duration
	WorkerClaimTimeout time.Duration
	WorkerMaxRetries   int
	JanitorInterval    time.Duration

	// Delivery retention window after delivered, for pruning.
	DeliveryRetention time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsEnabled bool
	MetricsPort    int
}

// Load builds a Config from the environment, reading a .env file first
// when present.
func Load() (*Config, error) {
	// Missing .env is fine; explicit env vars win either way.
	_ = godotenv.Load()

	cfg := &Config{
		Env:                Environment(GetEnv("OSA_ENV", string(Development))),
		NodeDomain:         GetEnv("OSA_NODE_DOMAIN", ""),
		DatabaseURL:        GetEnv("OSA_DATABASE_URL", ""),
		DBMaxConnections:   GetEnvInt("OSA_DB_MAX_CONNECTIONS", 20),
		DBIdleTimeout:      GetEnvDuration("OSA_DB_IDLE_TIMEOUT", 5*time.Minute),
		DataDir:            GetEnv("OSA_DATA_DIR", "/data"),
		HostDataDir:        GetEnv("OSA_HOST_DATA_DIR", ""),
		NodeFile:           GetEnv("OSA_NODE_FILE", "node.yaml"),
		WorkerPollInterval: GetEnvDuration("OSA_WORKER_POLL_INTERVAL", 500*time.Millisecond),
		WorkerClaimTimeout: GetEnvDuration("OSA_WORKER_CLAIM_TIMEOUT", 5*time.Minute),
		WorkerMaxRetries:   GetEnvInt("OSA_WORKER_MAX_RETRIES", 3),
		JanitorInterval:    GetEnvDuration("OSA_JANITOR_INTERVAL", 30*time.Second),
		DeliveryRetention:  GetEnvDuration("OSA_DELIVERY_RETENTION", 30*24*time.Hour),
		LogLevel:           GetEnv("LOG_LEVEL", "info"),
		LogFormat:          GetEnv("LOG_FORMAT", "json"),
		MetricsEnabled:     GetEnvBool("OSA_METRICS_ENABLED", true),
		MetricsPort:        GetEnvInt("OSA_METRICS_PORT", 9090),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and bounds. Failures are Configuration
// errors: the process must not boot on them.
func (c *Config) Validate() error {
	if c.NodeDomain == "" {
		return errors.Configuration("OSA_NODE_DOMAIN is required")
	}
	if c.DatabaseURL == "" {
		return errors.Configuration("OSA_DATABASE_URL is required")
	}
	if c.WorkerPollInterval <= 0 {
		return errors.Configuration("OSA_WORKER_POLL_INTERVAL must be > 0")
	}
	if c.WorkerClaimTimeout <= 0 {
		return errors.Configuration("OSA_WORKER_CLAIM_TIMEOUT must be > 0")
	}
	if c.WorkerMaxRetries < 0 {
		return errors.Configuration("OSA_WORKER_MAX_RETRIES must be >= 0")
	}
	switch c.Env {
	case Development, Testing, Production:
	default:
		return errors.Configuration(fmt.Sprintf("unknown OSA_ENV: %s", c.Env))
	}
	return nil
}

// GetEnv retrieves an environment variable with optional default.
func GetEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt retrieves an integer environment variable with optional default.
func GetEnvInt(key string, defaultValue int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvBool retrieves a boolean environment variable with optional default.
// Accepts: "true", "1", "yes", "y" (case-insensitive) as true.
func GetEnvBool(key string, defaultValue bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if val == "" {
		return defaultValue
	}
	switch val {
	case "true", "1", "yes", "y":
		return true
	case "false", "0", "no", "n":
		return false
	}
	return defaultValue
}

// GetEnvDuration retrieves a duration environment variable with optional default.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}
	return d
}
