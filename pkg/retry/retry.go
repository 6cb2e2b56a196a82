package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/c360/semlink/errors"
)

// NonRetryableError stops Do on the first occurrence.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return "non-retryable: " + e.Err.Error() }
func (e *NonRetryableError) Unwrap() error { return e.Err }

// NonRetryable marks err so that Do returns it immediately.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config describes a backoff. Zero delays and multiplier take defaults of
// 100ms, 5s and 2.
type Config struct {
	MaxAttempts  int // 0 means run once
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	AddJitter    bool // up to 25% extra per delay

	// ShouldRetry defaults to DefaultShouldRetry.
	ShouldRetry func(err error) bool `json:"-"`
}

// Quick suits startup dials: ten attempts within a few seconds.
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

// DefaultShouldRetry refuses marked errors, the connection taxonomy and
// anything classified invalid or fatal. Unclassified errors are retried.
func DefaultShouldRetry(err error) bool {
	if IsNonRetryable(err) || errors.IsTaxonomy(err) {
		return false
	}
	var ce *errors.ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == errors.ErrorTransient
	}
	return true
}

// backoff yields successive delays for one Do call.
type backoff struct {
	next, max  time.Duration
	multiplier float64
	jitter     bool
}

func (b *backoff) delay() time.Duration {
	d := b.next
	b.next = min(time.Duration(float64(b.next)*b.multiplier), b.max)
	if b.jitter && d >= 4 {
		d += rand.N(d / 4)
	}
	return d
}

func (cfg Config) prepare() (Config, *backoff, error) {
	if cfg.InitialDelay < 0 || cfg.MaxDelay < 0 || cfg.Multiplier < 0 {
		return cfg, nil, errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "negative backoff setting")
	}
	cfg.MaxAttempts = max(cfg.MaxAttempts, 1)
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		return cfg, nil, errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "MaxDelay below InitialDelay")
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = DefaultShouldRetry
	}
	return cfg, &backoff{
		next:       cfg.InitialDelay,
		max:        cfg.MaxDelay,
		multiplier: min(cfg.Multiplier, 1000),
		jitter:     cfg.AddJitter,
	}, nil
}

// Do calls fn until it succeeds, ShouldRetry rejects its error, the attempts
// run out or ctx ends. A rejected error is returned as is.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, b, err := cfg.prepare()
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		err := fn()
		switch {
		case err == nil:
			return nil
		case !cfg.ShouldRetry(err):
			return err
		case attempt == cfg.MaxAttempts:
			return fmt.Errorf("failed after %d attempts: %w", attempt, err)
		}

		timer := time.NewTimer(b.delay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("gave up after attempt %d: %w", attempt, errors.Join(ctx.Err(), err))
		case <-timer.C:
		}
	}
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() (err error) {
		result, err = fn()
		return err
	})
	return result, err
}
