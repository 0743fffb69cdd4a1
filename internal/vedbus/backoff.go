package vedbus

import "time"

// Default reconnect backoff.
const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultMaxAttempts    = 10
)

// BackoffConfig configures reconnect delays.
type BackoffConfig struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Backoff computes delay = min(Initial * 2^attempts, Max) for at most
// MaxAttempts consecutive retries. Not safe for concurrent use; the
// supervisor goroutine owns it.
type Backoff struct {
	cfg      BackoffConfig
	attempts int
}

// NewBackoff creates a backoff with defaults filled in.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultInitialBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMaxBackoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Backoff{cfg: cfg}
}

// Next returns the delay before the next retry and advances the attempt
// counter. ok is false once MaxAttempts retries have been scheduled.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	if b.attempts >= b.cfg.MaxAttempts {
		return 0, false
	}
	delay = b.cfg.Initial
	for i := 0; i < b.attempts && delay < b.cfg.Max; i++ {
		delay *= 2
	}
	if delay > b.cfg.Max {
		delay = b.cfg.Max
	}
	b.attempts++
	return delay, true
}

// Reset clears the attempt counter after a successful connect.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the retries scheduled since the last reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}
