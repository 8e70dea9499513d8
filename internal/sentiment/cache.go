// Package sentiment provides a TTL-memoised, rate-limited client for the
// exogenous sentiment provider: the scoring model itself is an external
// collaborator, but the cache, rate limiter, fallback
// escalation, and redaction around it are in scope.
package sentiment

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/palmoil/agent/internal/apperror"
	"github.com/palmoil/agent/internal/model"
	"github.com/palmoil/agent/internal/session"
)

// DefaultTTL is the default cache entry lifetime.
const DefaultTTL = 5 * time.Minute

// Provider fetches a raw sentiment score for a query string. Primary and
// Fallback implementations speak to different endpoints.
type Provider interface {
	Fetch(ctx context.Context, query string) (score int, err error)
}

// RateLimitedError is returned by a Provider when the caller should fail over
// to a different provider (HTTP 429).
type RateLimitedError struct{ Query string }

func (e *RateLimitedError) Error() string { return "sentiment provider rate limited: " + e.Query }

// Cache is a keyed {query -> (score, fetched_at)} map with TTL, guarded by a
// sliding-window rate limiter per provider and a consecutive-failure backoff.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]model.SentimentEntry
	ttl     time.Duration

	primary      Provider
	fallback     Provider
	primaryRL    *slidingWindowLimiter
	fallbackRL   *slidingWindowLimiter
	backoff      *session.Backoff
	backoffMu    sync.Mutex
	backoffUntil time.Time
	group        singleflight.Group
	logger       *logrus.Entry
}

// Config controls rate limits and TTL; zero-value fields fall back to the
// documented defaults.
type Config struct {
	TTL                  time.Duration
	PrimaryPerMinute     int
	FallbackPerMinute    int
}

// DefaultConfig holds the documented rate-limit and TTL defaults.
var DefaultConfig = Config{TTL: DefaultTTL, PrimaryPerMinute: 60, FallbackPerMinute: 10}

// NewCache constructs a Cache. primary/fallback may be the same Provider if
// only one endpoint is configured; fallback may be nil to disable failover.
func NewCache(primary, fallback Provider, cfg Config, logger *logrus.Entry) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig.TTL
	}
	if cfg.PrimaryPerMinute <= 0 {
		cfg.PrimaryPerMinute = DefaultConfig.PrimaryPerMinute
	}
	if cfg.FallbackPerMinute <= 0 {
		cfg.FallbackPerMinute = DefaultConfig.FallbackPerMinute
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Cache{
		entries:    make(map[string]model.SentimentEntry),
		ttl:        cfg.TTL,
		primary:    primary,
		fallback:   fallback,
		primaryRL:  newSlidingWindowLimiter(cfg.PrimaryPerMinute, time.Minute),
		fallbackRL: newSlidingWindowLimiter(cfg.FallbackPerMinute, time.Minute),
		backoff:    session.NewBackoff(session.BackoffConfig{Initial: time.Second, Max: 30 * time.Second, MaxRetries: 1}, logger),
		logger:     logger.WithField("subsystem", "sentiment"),
	}
}

// Get returns the cached or freshly-fetched sentiment entry for query. A
// cache hit within TTL short-circuits the network entirely. On a miss,
// concurrent callers for the same query are deduplicated via singleflight.
func (c *Cache) Get(ctx context.Context, query string, now time.Time) (model.SentimentEntry, error) {
	if e, ok := c.lookup(query, now); ok {
		return e, nil
	}

	if wait, backingOff := c.inBackoff(now); backingOff {
		c.logger.WithField("query", query).WithField("backoff_remaining", wait).
			Debug("sentiment provider backing off after consecutive failures; skipping live fetch")
		if e, ok := c.staleLookup(query); ok {
			degraded := e
			degraded.Confidence *= 0.5
			return degraded, nil
		}
		return model.SentimentEntry{}, apperror.New(apperror.KindTimeout, "sentiment provider backing off after consecutive failures")
	}

	v, err, _ := c.group.Do(query, func() (interface{}, error) {
		return c.fetchAndStore(ctx, query, now)
	})
	if err != nil {
		// Degraded fallback: if a stale entry exists, serve it with reduced
		// confidence rather than propagating the error.
		if e, ok := c.staleLookup(query); ok {
			degraded := e
			degraded.Confidence *= 0.5
			c.logger.WithField("query", query).Warn("sentiment fetch failed; serving degraded last-known score")
			return degraded, nil
		}
		return model.SentimentEntry{}, err
	}
	return v.(model.SentimentEntry), nil
}

// inBackoff reports whether a consecutive-failure backoff delay is still in
// effect, and how much longer it has to run.
func (c *Cache) inBackoff(now time.Time) (time.Duration, bool) {
	c.backoffMu.Lock()
	defer c.backoffMu.Unlock()
	if c.backoffUntil.IsZero() || !now.Before(c.backoffUntil) {
		return 0, false
	}
	return c.backoffUntil.Sub(now), true
}

// recordFailure advances the backoff sequence and arms the next delay
// window after a fetch attempt exhausted both providers.
func (c *Cache) recordFailure(now time.Time) {
	delay := c.backoff.Next()
	c.backoffMu.Lock()
	c.backoffUntil = now.Add(delay)
	c.backoffMu.Unlock()
}

// recordSuccess resets the backoff sequence and clears any armed delay.
func (c *Cache) recordSuccess() {
	c.backoff.Reset()
	c.backoffMu.Lock()
	c.backoffUntil = time.Time{}
	c.backoffMu.Unlock()
}

func (c *Cache) lookup(query string, now time.Time) (model.SentimentEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[query]
	if !ok || e.Expired(now, c.ttl) {
		return model.SentimentEntry{}, false
	}
	return e, true
}

func (c *Cache) staleLookup(query string) (model.SentimentEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[query]
	return e, ok
}

func (c *Cache) store(query string, e model.SentimentEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[query] = e
}

func (c *Cache) fetchAndStore(ctx context.Context, query string, now time.Time) (model.SentimentEntry, error) {
	score, confidence, err := c.fetchWithFailover(ctx, query, now)
	if err != nil {
		c.recordFailure(now)
		return model.SentimentEntry{}, err
	}
	e := model.SentimentEntry{Score: score, Confidence: confidence, FetchedAt: now}
	c.store(query, e)
	c.recordSuccess()
	return e, nil
}

func (c *Cache) fetchWithFailover(ctx context.Context, query string, now time.Time) (score int, confidence float64, err error) {
	if c.primaryRL.Allow(now) {
		score, err = c.primary.Fetch(ctx, query)
		if err == nil {
			return score, 1.0, nil
		}
		c.logger.WithField("query", query).WithError(err).Warn("primary sentiment provider failed")
	} else {
		c.logger.WithField("query", query).Debug("primary sentiment provider rate-limited locally; trying fallback")
	}

	if c.fallback == nil {
		return 0, 0, err
	}
	if !c.fallbackRL.Allow(now) {
		return 0, 0, &RateLimitedError{Query: query}
	}
	score, ferr := c.fallback.Fetch(ctx, query)
	if ferr != nil {
		c.logger.WithField("query", query).WithError(ferr).Warn("fallback sentiment provider failed")
		return 0, 0, ferr
	}
	return score, 0.75, nil
}
