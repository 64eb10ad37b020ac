package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Unlimited as Config.MaxAttempts retries until fn succeeds, returns a
// non-retryable error, or the context ends.
const Unlimited = -1

// Config describes an exponential backoff.
type Config struct {
	MaxAttempts  int           // total attempts; 0 runs once
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // cap on any single delay
	Multiplier   float64       // growth per attempt
	AddJitter    bool          // add up to 25% on top of each delay

	// OnRetry is called after a failed attempt, before sleeping.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig is three attempts starting at 100ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

func (cfg Config) normalize() (Config, error) {
	switch {
	case cfg.InitialDelay < 0:
		return cfg, errors.New("retry: InitialDelay cannot be negative")
	case cfg.MaxDelay < 0:
		return cfg, errors.New("retry: MaxDelay cannot be negative")
	case cfg.Multiplier < 0:
		return cfg, errors.New("retry: Multiplier cannot be negative")
	}

	if cfg.MaxAttempts == 0 || cfg.MaxAttempts < Unlimited {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}
	cfg.Multiplier = min(cfg.Multiplier, 1000)

	if cfg.MaxDelay < cfg.InitialDelay {
		return cfg, errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return cfg, nil
}

// Backoff yields successive delays for one retry sequence.
type Backoff struct {
	cfg  Config
	next time.Duration
}

// NewBackoff validates cfg and returns a backoff positioned at the first
// delay.
func NewBackoff(cfg Config) (*Backoff, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	return &Backoff{cfg: cfg, next: cfg.InitialDelay}, nil
}

// Next returns the delay to wait now, jitter included, and advances.
func (b *Backoff) Next() time.Duration {
	d := b.next
	grown := time.Duration(float64(b.next) * b.cfg.Multiplier)
	b.next = min(grown, b.cfg.MaxDelay)
	if grown < 0 {
		b.next = b.cfg.MaxDelay
	}

	if b.cfg.AddJitter && d >= 4 {
		d += rand.N(d / 4)
	}
	return d
}

// Peek returns the next delay, without jitter, and does not advance.
func (b *Backoff) Peek() time.Duration { return b.next }

// Reset returns to the initial delay.
func (b *Backoff) Reset() { b.next = b.cfg.InitialDelay }

// Delay returns the delay before attempt n+1 (n from 1), without jitter.
func (cfg Config) Delay(n int) time.Duration {
	cfg.AddJitter = false
	b, err := NewBackoff(cfg)
	if err != nil || n < 1 {
		return 0
	}
	var d time.Duration
	for i := 0; i < n; i++ {
		d = b.Next()
	}
	return d
}

// Do calls fn until it succeeds, returns a NonRetryable error, runs out of
// attempts, or ctx ends.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	b, err := NewBackoff(cfg)
	if err != nil {
		return err
	}
	cfg = b.cfg

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn()
		switch {
		case lastErr == nil:
			return nil
		case IsNonRetryable(lastErr):
			return lastErr
		case ctx.Err() != nil:
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, ctx.Err())
		case cfg.MaxAttempts != Unlimited && attempt >= cfg.MaxAttempts:
			return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
		}

		delay := b.Next()
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}
}
