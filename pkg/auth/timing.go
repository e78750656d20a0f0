package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for response-time padding
type TimingConfig struct {
	Floor  time.Duration // minimum total time for a padded operation
	Jitter time.Duration // random extra time in [0, Jitter)
}

// TimingDelay pads an operation so outcomes that do different amounts of work
// (unknown email, wrong password, reset for a missing account) take about
// the same wall-clock time.
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

// cryptoRandDuration returns a secure random duration in [0, max)
func cryptoRandDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(b) % uint64(max))
}

// target returns the padded duration for one operation
func (td *TimingDelay) target() time.Duration {
	return td.config.Floor + cryptoRandDuration(td.config.Jitter)
}

// WaitFrom sleeps until at least the padded duration has elapsed since start.
// It returns early when ctx is done. A nil TimingDelay does not wait.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time) {
	if td == nil {
		return
	}

	remaining := td.target() - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
