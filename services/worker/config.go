// Package worker supervises the pull-based event workers: one long-running
// worker per (event type, consumer group) pair, plus the stale-claim janitor.
package worker

import (
	"fmt"
	"time"

	"github.com/opensciencearchive/server/infrastructure/errors"
)

// Config bounds one worker's claim loop. Validation of these bounds is
// enforced at construction.
type Config struct {
	// BatchSize is the maximum events claimed per batch.
	BatchSize int
	// BatchTimeout bounds the claim query itself.
	BatchTimeout time.Duration
	// PollInterval is the sleep between polls when idle.
	PollInterval time.Duration
	// MaxRetries is the retry ceiling before a delivery is parked failed.
	MaxRetries int
	// ClaimTimeout is how long a claim may live before the janitor
	// returns it to pending. Must exceed BatchTimeout.
	ClaimTimeout time.Duration
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:    1,
		BatchTimeout: 5 * time.Second,
		PollInterval: 500 * time.Millisecond,
		MaxRetries:   3,
		ClaimTimeout: 5 * time.Minute,
	}
}

// Validate enforces the configuration bounds.
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return errors.Configuration(fmt.Sprintf("batch_size must be >= 1, got %d", c.BatchSize))
	}
	if c.BatchTimeout <= 0 {
		return errors.Configuration("batch_timeout must be > 0")
	}
	if c.PollInterval <= 0 {
		return errors.Configuration("poll_interval must be > 0")
	}
	if c.MaxRetries < 0 {
		return errors.Configuration(fmt.Sprintf("max_retries must be >= 0, got %d", c.MaxRetries))
	}
	if c.ClaimTimeout <= c.BatchTimeout {
		return errors.Configuration("claim_timeout must be > batch_timeout")
	}
	return nil
}

// backoffCap bounds the exponential backoff between claim attempts after
// failed batches.
const backoffCap = 5 * time.Minute

// backoff returns poll_interval * 2^failures, capped.
func backoff(pollInterval time.Duration, failures int) time.Duration {
	d := pollInterval
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}
