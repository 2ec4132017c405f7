package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrExhausted is returned by Poll when the attempt bound is reached
var ErrExhausted = errors.New("retry attempts exhausted")

// Config holds retry configuration
type Config struct {
	MaxRetries     int           // Maximum number of retry attempts
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	Multiplier     float64       // Backoff multiplier (exponential)
	Clock          clockwork.Clock
}

// DefaultConfig returns sensible defaults for retries
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

func clockOrReal(c clockwork.Clock) clockwork.Clock {
	if c == nil {
		return clockwork.NewRealClock()
	}
	return c
}

// Do executes fn with exponential backoff retries
func Do(ctx context.Context, config Config, fn func() error) error {
	clock := clockOrReal(config.Clock)
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-clock.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if config.MaxBackoff > 0 && backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", config.MaxRetries, lastErr)
}

// PollConfig configures a fixed-period readiness poll
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int // 0 means unbounded
	Clock       clockwork.Clock
	// Wake, when non-nil, triggers an immediate re-check without waiting
	// for the next period.
	Wake <-chan struct{}
}

// Poll calls cond until it reports done, returns an error, the context is
// cancelled, or MaxAttempts checks have failed. Attempts are numbered from 1.
func Poll(ctx context.Context, config PollConfig, cond func(attempt int) (bool, error)) error {
	clock := clockOrReal(config.Clock)
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("poll cancelled: %w", ctx.Err())
		default:
		}

		done, err := cond(attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if config.MaxAttempts > 0 && attempt >= config.MaxAttempts {
			return fmt.Errorf("%w after %d checks", ErrExhausted, attempt)
		}

		timer := clock.NewTimer(config.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("poll cancelled: %w", ctx.Err())
		case <-timer.Chan():
		case <-config.Wake:
			timer.Stop()
		}
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"no such file or directory",
		"timeout",
		"temporary failure",
		"eof",
		"broken pipe",
	}
	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}
	return false
}
