package session

import (
	"errors"
	"fmt"
	"time"
)

// DefaultRetryLimit matches the firmware library default.
const DefaultRetryLimit = 3

var ErrInvalidConfig = errors.New("session: invalid config")

// BackoffConfig defines the delay inserted between retransmissions.
// The zero value retransmits immediately after an ACK timeout.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines acknowledgment and reassembly timing.
type Config struct {
	// RetryLimit is the number of retransmissions after the first attempt.
	// Zero disables acknowledgments entirely.
	RetryLimit        int
	AckTimeout        time.Duration
	ReassemblyTimeout time.Duration
	// PollInterval bounds each receive wait, both in Run and while Send
	// polls for its own acknowledgment.
	PollInterval time.Duration
	Backoff      BackoffConfig
}

// DefaultConfig returns the protocol's fixed timing.
func DefaultConfig() Config {
	return Config{
		RetryLimit:        DefaultRetryLimit,
		AckTimeout:        100 * time.Millisecond,
		ReassemblyTimeout: 500 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
	}
}

// WithDefaults fills unset durations. RetryLimit is left alone since zero is
// meaningful.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.ReassemblyTimeout <= 0 {
		c.ReassemblyTimeout = d.ReassemblyTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Backoff.Multiplier == 0 {
		c.Backoff.Multiplier = 1.0
	}
	return c
}

func (c Config) Validate() error {
	if c.RetryLimit < 0 || c.RetryLimit > 255 {
		return fmt.Errorf("%w: retry limit %d out of range [0,255]", ErrInvalidConfig, c.RetryLimit)
	}
	if c.AckTimeout < 0 || c.ReassemblyTimeout < 0 || c.PollInterval < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	if c.Backoff.InitialDelay < 0 || c.Backoff.MaxDelay < 0 {
		return fmt.Errorf("%w: negative backoff", ErrInvalidConfig)
	}
	return nil
}

// AcksEnabled reports whether multi-frame sends wait for acknowledgment.
func (c Config) AcksEnabled() bool {
	return c.RetryLimit > 0
}

// MaxSendDuration is the worst-case time a tracked send blocks waiting for
// acknowledgments, excluding backoff.
func (c Config) MaxSendDuration() time.Duration {
	return c.AckTimeout * time.Duration(c.RetryLimit+1)
}
