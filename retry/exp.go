package retry

import (
	"time"
)

// ExpConfig configures exponentially growing delays
type ExpConfig struct {
	Min   time.Duration
	Max   time.Duration
	Scale float64

	// MaxAttempts limits the number of attempts; 0 means unlimited
	MaxAttempts int
}

// Delays implements Config. The first attempt is made immediately.
func (ec ExpConfig) Delays() DelayFn {
	b := NewExpBackoff(ec)
	attempts := 0
	return func() (time.Duration, bool) {
		attempts++
		switch {
		case attempts == 1:
			return 0, true
		case ec.MaxAttempts != 0 && attempts > ec.MaxAttempts:
			return 0, false
		default:
			return b.Backoff(), true
		}
	}
}

// Exponential contains the current state of the backoff logic
type Exponential struct {
	config  ExpConfig
	current time.Duration
}

// NewExpBackoff creates new Exponential
func NewExpBackoff(config ExpConfig) *Exponential {
	return &Exponential{
		config:  config,
		current: config.Min,
	}
}

// Backoff returns the duration to wait and updates the inner state
func (b *Exponential) Backoff() time.Duration {
	d := b.current
	b.current = min(time.Duration(float64(b.current)*b.config.Scale), b.config.Max)
	return d
}

// Reset resets the backoff state
func (b *Exponential) Reset() {
	b.current = b.config.Min
}
