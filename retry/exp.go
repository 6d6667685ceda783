package retry

import (
	"time"
)

// ExpConfig is used to configure exponential backoff
type ExpConfig struct {
	Min   time.Duration
	Max   time.Duration
	Scale float64

	// Instant makes the first attempt wait Min too; by default it runs at once
	Instant bool

	// MaxAttempts is the maximum number of attempts taken; 0 = unlimited
	MaxAttempts int
}

// Delays implements interface Config
func (ec ExpConfig) Delays() DelayFn {
	b, zero := NewExpBackoff(ec), !ec.Instant
	attempts := 0
	return func() (time.Duration, bool) {
		attempts++
		if ec.MaxAttempts != 0 && attempts > ec.MaxAttempts {
			return 0, false
		}
		if zero {
			zero = false
			return 0, true
		}
		return b.Backoff(), true
	}
}

// Exponential contains the current state of the backoff logic
type Exponential struct {
	config  ExpConfig
	current time.Duration
}

// DefaultExpBackoffConfig is a suggested configuration
var DefaultExpBackoffConfig = ExpConfig{
	Min:   10 * time.Millisecond,
	Max:   1 * time.Minute,
	Scale: 2.0,
}

// NewExpBackoff creates new expBackoff
func NewExpBackoff(config ExpConfig) *Exponential {
	return &Exponential{
		config:  config,
		current: config.Min,
	}
}

// Backoff returns the duration to wait and updates the inner state
func (b *Exponential) Backoff() time.Duration {
	beforeScale := b.current
	b.current = min(time.Duration(float64(b.current)*b.config.Scale), b.config.Max)
	return beforeScale
}

// Reset resets the backoff state
func (b *Exponential) Reset() {
	b.current = b.config.Min
}
