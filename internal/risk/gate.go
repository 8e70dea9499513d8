// Package risk implements the pre-order risk gate: the six-step check
// sequence, plus a sony/gobreaker-backed circuit breaker around
// the order-dispatch call itself so repeated broker-side order failures trip
// independently of the daily-loss/consecutive-loss thresholds.
package risk

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/palmoil/agent/internal/apperror"
	"github.com/palmoil/agent/internal/model"
)

// RejectReason enumerates why the gate blocked an entry.
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectTripped
	RejectMaxPositions
	RejectConsecutiveLosses
	RejectDailyLoss
	RejectVolatilitySpike
	RejectBreakerOpen
)

func (r RejectReason) String() string {
	switch r {
	case RejectTripped:
		return "CircuitBreakerTripped"
	case RejectMaxPositions:
		return "MaxPositionsReached"
	case RejectConsecutiveLosses:
		return "ConsecutiveLossesCooldown"
	case RejectDailyLoss:
		return "DailyLossTripped"
	case RejectVolatilitySpike:
		return "VolatilitySpike"
	case RejectBreakerOpen:
		return "OrderCircuitBreakerOpen"
	default:
		return "None"
	}
}

// Config bundles the gate's configurable thresholds.
type Config struct {
	MaxPositions            int
	MaxDailyLossPercent     float64
	ConsecutiveLossLimit    int
	ConsecutiveLossCooldown time.Duration
	VolatilitySpikeFactor   float64
}

// DefaultConfig: max_positions=1, max_daily_loss=5%, consecutive-loss limit
// 3, volatility factor 2.0.
var DefaultConfig = Config{
	MaxPositions:            1,
	MaxDailyLossPercent:     5.0,
	ConsecutiveLossLimit:    3,
	ConsecutiveLossCooldown: 30 * time.Minute,
	VolatilitySpikeFactor:   2.0,
}

// Gate evaluates the six-step check sequence and wraps order dispatch in a
// circuit breaker.
type Gate struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker[struct{}]

	lastLossAt time.Time
}

// NewGate constructs a Gate. Zero-value Config fields fall back to
// DefaultConfig.
func NewGate(cfg Config) *Gate {
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = DefaultConfig.MaxPositions
	}
	if cfg.MaxDailyLossPercent <= 0 {
		cfg.MaxDailyLossPercent = DefaultConfig.MaxDailyLossPercent
	}
	if cfg.ConsecutiveLossLimit <= 0 {
		cfg.ConsecutiveLossLimit = DefaultConfig.ConsecutiveLossLimit
	}
	if cfg.ConsecutiveLossCooldown <= 0 {
		cfg.ConsecutiveLossCooldown = DefaultConfig.ConsecutiveLossCooldown
	}
	if cfg.VolatilitySpikeFactor <= 0 {
		cfg.VolatilitySpikeFactor = DefaultConfig.VolatilitySpikeFactor
	}

	settings := gobreaker.Settings{
		Name:        "order-dispatch",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}

	return &Gate{cfg: cfg, breaker: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

// RecordLoss marks the time of the most recent losing trade, used for the
// consecutive-loss cooldown window (step 4).
func (g *Gate) RecordLoss(at time.Time) {
	g.lastLossAt = at
}

// Evaluate runs the six-step check sequence in order, mutating
// risk for the daily rollover (step 1) and recording currentATR as
// risk.LastVolatilityATR for observability. openPositions is the current
// count of open local positions; rollingAvgATR is the caller-maintained mean
// of recent ATR values (indicators.ATR.RollingAverage) -- a zero average is
// treated as "no spike".
func (g *Gate) Evaluate(risk *model.RiskState, openPositions int, currentATR, rollingAvgATR float64, now time.Time) RejectReason {
	risk.MaybeRolloverDaily(now)
	risk.LastVolatilityATR = currentATR

	if risk.Tripped {
		return RejectTripped
	}

	if openPositions >= g.cfg.MaxPositions {
		return RejectMaxPositions
	}

	if risk.ConsecutiveLosses >= g.cfg.ConsecutiveLossLimit && now.Sub(g.lastLossAt) < g.cfg.ConsecutiveLossCooldown {
		return RejectConsecutiveLosses
	}

	lossThreshold := -(g.cfg.MaxDailyLossPercent / 100) * risk.SessionStartBalance
	if risk.DailyRealizedPnL <= lossThreshold {
		risk.Tripped = true
		return RejectDailyLoss
	}

	if rollingAvgATR > 0 && currentATR > g.cfg.VolatilitySpikeFactor*rollingAvgATR {
		return RejectVolatilitySpike
	}

	return RejectNone
}

// Dispatch runs orderFn through the circuit breaker: repeated broker-side
// order failures (distinct from threshold rejections) open the breaker and
// further calls fail fast with RejectBreakerOpen until the cooldown elapses.
func (g *Gate) Dispatch(orderFn func() error) (RejectReason, error) {
	_, err := g.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, orderFn()
	})
	if err == nil {
		return RejectNone, nil
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return RejectBreakerOpen, apperror.New(apperror.KindOrderRejected, fmt.Sprintf("order circuit breaker open: %v", err))
	}
	return RejectNone, err
}
