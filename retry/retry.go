package retry

import (
	"context"
	"errors"
	"time"

	"github.com/ridge/trackmap/tlog"
	"go.uber.org/zap"
)

// DelayFn produces the delays between attempts of a single retry sequence.
//
// Each call returns the delay before the next attempt and whether the next
// attempt is desired at all. The first call must return true; its delay is
// used before the very first attempt, so it is normally 0.
type DelayFn func() (delay time.Duration, ok bool)

// Config defines retry intervals.
//
// An implementation of Config is normally stateless.
type Config interface {
	// Delays returns a DelayFn representing an independent sequence of delays
	Delays() DelayFn
}

// FixedConfig defines fixed retry intervals
type FixedConfig struct {
	// TryAfter is the delay before the first attempt
	TryAfter time.Duration

	// RetryAfter is the delay before each subsequent attempt
	RetryAfter time.Duration

	// MaxAttempts is the maximum number of attempts taken; 0 = unlimited
	MaxAttempts int
}

// Delays implements interface Config
func (c FixedConfig) Delays() DelayFn {
	attempts := 0
	return func() (time.Duration, bool) {
		attempts++
		switch {
		case attempts == 1:
			return c.TryAfter, true
		case c.MaxAttempts != 0 && attempts > c.MaxAttempts:
			return 0, false
		default:
			return c.RetryAfter, true
		}
	}
}

// Attempts returns a Config making up to n immediate attempts
func Attempts(n int) Config {
	return FixedConfig{MaxAttempts: n}
}

// ErrRetriable means the operation that caused the error should be retried
type ErrRetriable struct {
	err error
}

func (r ErrRetriable) Error() string {
	return r.err.Error()
}

// Unwrap returns the next error in the error chain
func (r ErrRetriable) Unwrap() error {
	return r.err
}

// Retriable wraps an error to tell Do that it should keep trying.
// Returns nil if err is nil.
func Retriable(err error) error {
	if err == nil {
		return nil
	}
	return ErrRetriable{err: err}
}

// IsRetriable reports whether err was wrapped with Retriable
func IsRetriable(err error) bool {
	var r ErrRetriable
	return errors.As(err, &r)
}

// Do executes the given function, retrying if necessary.
//
// The given Config is used to calculate the delays before each attempt.
// Wrap an error with Retriable to indicate that Do should try again. Any
// other result is returned immediately. When attempts run out, the last
// retriable error is returned unwrapped.
func Do(ctx context.Context, c Config, f func() error) error {
	startedAt := time.Now()
	delays := c.Delays()
	var lastMessage string
	var r ErrRetriable
	for i := 0; ; i++ {
		logger := tlog.Get(ctx).With(zap.Int("attempts", i+1))

		delay, ok := delays()
		if !ok {
			if i == 0 {
				panic("ok is false on first attempt")
			}
			tlog.Get(ctx).Debug("Retry failed after maximum number of attempts", zap.Int("attempts", i),
				zap.Error(r.err), zap.Duration("duration", time.Since(startedAt)))
			return r.err
		}

		if err := Sleep(ctx, delay); err != nil {
			if i > 0 {
				logger.Debug("Retry canceled", zap.Error(err), zap.Duration("duration", time.Since(startedAt)))
			}
			return err
		}

		if err := f(); !errors.As(err, &r) {
			if i > 0 {
				if err != nil {
					logger.Debug("Retry finished with non-retriable error", zap.Error(err), zap.Duration("duration", time.Since(startedAt)))
				} else {
					logger.Debug("Retry succeeded", zap.Duration("duration", time.Since(startedAt)))
				}
			}
			return err
		}
		if ctx.Err() != nil {
			return r.err // f wants to retry but the context is closing
		}

		if newMessage := r.err.Error(); lastMessage != newMessage {
			logger.Debug("Will retry", zap.Error(r.err))
			lastMessage = newMessage
		}
	}
}

// Do1 is a single return value version of Do
func Do1[T any](ctx context.Context, c Config, f func() (T, error)) (T, error) {
	var t T
	err := Do(ctx, c, func() error {
		var err error
		t, err = f()
		return err
	})
	return t, err
}
