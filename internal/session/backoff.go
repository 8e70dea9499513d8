package session

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
)

// BackoffConfig controls the exponential-with-jitter reconnect schedule:
// initial 1s, cap 60s by default.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int
}

// DefaultBackoffConfig holds the documented reconnect-backoff defaults.
var DefaultBackoffConfig = BackoffConfig{
	Initial:    1 * time.Second,
	Max:        60 * time.Second,
	MaxRetries: 10,
}

// Backoff generates successive reconnect delays using crypto/rand-sourced
// jitter rather than math/rand, so it is safe to share across goroutines
// without a seeded global.
type Backoff struct {
	cfg     BackoffConfig
	current time.Duration
	logger  *logrus.Entry
}

// NewBackoff constructs a Backoff with the given config (zero-value fields
// fall back to DefaultBackoffConfig).
func NewBackoff(cfg BackoffConfig, logger *logrus.Entry) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultBackoffConfig.Initial
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultBackoffConfig.Max
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultBackoffConfig.MaxRetries
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Backoff{cfg: cfg, current: cfg.Initial, logger: logger.WithField("subsystem", "reconnect")}
}

// MaxRetries returns the configured maximum reconnect attempt count.
func (b *Backoff) MaxRetries() int { return b.cfg.MaxRetries }

// Reset returns the delay sequence to its initial value (called after a
// sustained successful connection).
func (b *Backoff) Reset() { b.current = b.cfg.Initial }

// Next returns the next delay (with jitter) and advances the sequence.
func (b *Backoff) Next() time.Duration {
	delay := b.current
	jittered := addJitter(delay)

	b.current = time.Duration(float64(b.current) * 2)
	if b.current > b.cfg.Max {
		b.current = b.cfg.Max
	}
	return jittered
}

// addJitter adds up to 25% uniform jitter to d, sourced from crypto/rand so
// the sequence is safe across goroutines without a shared PRNG.
func addJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	maxJitter := int64(d / 4)
	if maxJitter <= 0 {
		return d
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
	if err != nil {
		return d
	}
	return d + time.Duration(n.Int64())
}
