package cache

import "time"

// BackoffConfig controls how often a degraded backend is probed.
type BackoffConfig struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// backoff is a capped exponential delay sequence. Not safe for concurrent
// use; the coordinator guards it with its mutex.
type backoff struct {
	config BackoffConfig
	next   time.Duration
}

func newBackoff(config BackoffConfig) *backoff {
	if config.InitialDelay <= 0 {
		config.InitialDelay = DefaultBackoffConfig().InitialDelay
	}
	if config.MaxDelay < config.InitialDelay {
		config.MaxDelay = config.InitialDelay
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	return &backoff{config: config, next: config.InitialDelay}
}

// Next returns the current delay and advances the sequence.
func (b *backoff) Next() time.Duration {
	delay := b.next
	b.next = time.Duration(float64(b.next) * b.config.BackoffFactor)
	if b.next > b.config.MaxDelay {
		b.next = b.config.MaxDelay
	}
	return delay
}

func (b *backoff) Reset() {
	b.next = b.config.InitialDelay
}
