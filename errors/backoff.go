package errors

import (
	"time"

	"github.com/c360/framerelay/pkg/retry"
)

// RetryConfig is the config-file form of a backoff policy. MaxRetries counts
// attempts after the first.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries"    yaml:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay"  yaml:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"      yaml:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"`
}

// DefaultRetryConfig is the worker restart backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    5,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ShouldRetry reports whether attempt (zero based) may be followed by
// another one after err.
func (rc RetryConfig) ShouldRetry(err error, attempt int) bool {
	return err != nil && attempt < rc.MaxRetries && IsTransient(err)
}

// ToRetryConfig converts to pkg/retry, adding the first attempt and jitter.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}

// BackoffDelay is the delay before retry number attempt, without jitter.
func (rc RetryConfig) BackoffDelay(attempt int) time.Duration {
	delay := float64(rc.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= rc.BackoffFactor
		if delay >= float64(rc.MaxDelay) {
			return rc.MaxDelay
		}
	}
	return time.Duration(delay)
}
