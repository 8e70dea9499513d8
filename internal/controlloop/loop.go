// Package controlloop drives the canonical trading cycle,
// wiring together the price cache, candle aggregator, indicators, sentiment
// cache, strategy, risk gate, order issuer, execution tracker, persistence,
// and metrics registry built by the other internal packages.
package controlloop

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/palmoil/agent/internal/apperror"
	"github.com/palmoil/agent/internal/candles"
	"github.com/palmoil/agent/internal/execution"
	"github.com/palmoil/agent/internal/indicators"
	"github.com/palmoil/agent/internal/metrics"
	"github.com/palmoil/agent/internal/model"
	"github.com/palmoil/agent/internal/orders"
	"github.com/palmoil/agent/internal/persistence"
	"github.com/palmoil/agent/internal/pricecache"
	"github.com/palmoil/agent/internal/reconcile"
	"github.com/palmoil/agent/internal/risk"
	"github.com/palmoil/agent/internal/sentiment"
	"github.com/palmoil/agent/internal/strategy"
	"github.com/palmoil/agent/internal/wire"
)

// DefaultStaleThreshold matches the general bounded-wait convention used
// elsewhere in the session layer.
const DefaultStaleThreshold = 10 * time.Second

// BarDuration is the candle aggregation window feeding the indicators.
const BarDuration = time.Minute

// DefaultFirstTickWindow is the bounded wait for the first price tick to
// arrive after a successful subscribe. Neither a subscribe ack nor a first
// tick arriving is optional: if the window elapses with no tick, the loop
// fails fast rather than sitting idle forever on a closed market or wrong
// symbol.
const DefaultFirstTickWindow = 30 * time.Second

// Deps bundles every collaborator the loop reads from or writes to. All
// fields are required except SyntheticWalk (only used when Offline is true),
// Store/Metrics (nil disables persistence/metrics updates, e.g. in tests),
// and OrderSender (nil skips order dispatch, as in dry-run).
type Deps struct {
	Prices      *pricecache.Cache
	Aggregator  *candles.Aggregator
	RSI         *indicators.RSI
	EMA         *indicators.EMA
	ATR         *indicators.ATR
	Sentiment   *sentiment.Cache
	RiskGate    *risk.Gate
	RiskState   *model.RiskState
	Tracker     *execution.Tracker
	OrderSender orders.Sender
	Store       *persistence.Store
	Metrics     *metrics.Registry

	SymbolID     int64
	SymbolQuery  string // sentiment provider query key, e.g. the symbol name
	Metadata     *model.Metadata
	Sizing       orders.Sizing
	Thresholds   strategy.Thresholds
	TakeProfitPercent float64
	StopLossPercent   float64

	Offline       bool // dry_run with no access token configured
	SyntheticWalk *SyntheticPriceWalk

	StaleThreshold time.Duration
	Logger         *logrus.Entry
}

// Loop runs the cycle on a fixed interval until its context is cancelled.
type Loop struct {
	deps     Deps
	interval time.Duration
	logger   *logrus.Entry

	lastReconcile time.Time

	firstTickSeen     bool
	firstTickDeadline time.Time // zero means no deadline armed
}

// New constructs a Loop. Zero-value StaleThreshold falls back to
// DefaultStaleThreshold.
func New(deps Deps, interval time.Duration) *Loop {
	if deps.StaleThreshold <= 0 {
		deps.StaleThreshold = DefaultStaleThreshold
	}
	if deps.Logger == nil {
		deps.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Loop{deps: deps, interval: interval, logger: deps.Logger.WithField("subsystem", "controlloop")}
}

// SetSymbol binds the resolved broker symbol id and metadata once, after
// startup symbol resolution completes; the control loop is otherwise
// symbol-agnostic until this is called.
func (l *Loop) SetSymbol(id int64, md *model.Metadata) {
	l.deps.SymbolID = id
	l.deps.Metadata = md
}

// ArmFirstTickDeadline starts (or restarts, on reconnect) the bounded wait
// for the first price tick. Call once a subscribe ack has been received. A
// non-positive window falls back to DefaultFirstTickWindow. No-op once a
// tick has actually been seen.
func (l *Loop) ArmFirstTickDeadline(now time.Time, window time.Duration) {
	if l.firstTickSeen {
		return
	}
	if window <= 0 {
		window = DefaultFirstTickWindow
	}
	l.firstTickDeadline = now.Add(window)
}

// Run ticks Cycle on deps' interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := l.Cycle(ctx, now); err != nil {
				if apperror.Is(err, apperror.KindTimeout) {
					l.logger.WithError(err).Error("first price tick deadline exceeded; failing fast")
					return err
				}
				l.logger.WithError(err).WithField("cycle_time", now).Warn("cycle error; continuing")
			}
		}
	}
}

// Cycle executes one iteration of the canonical 8-step sequence. Steps 1-2
// and 4-7 are pure/bounded; nothing here holds a lock across a suspension
// point.
func (l *Loop) Cycle(ctx context.Context, now time.Time) error {
	d := l.deps

	price, ok := l.currentPrice(now)
	if !ok {
		if err := l.checkFirstTickDeadline(now); err != nil {
			return err
		}
		l.logger.Debug("price stale or absent; skipping cycle")
		return nil
	}

	if bar, closed := d.Aggregator.Add(price.Mid(), now); closed {
		d.RSI.Update(bar.Close)
		d.EMA.Update(bar.Close)
		d.ATR.Update(bar.High, bar.Low, bar.Close)
	}

	if !d.RSI.Ready() || !d.EMA.Ready() {
		return nil
	}

	sentimentEntry, err := d.Sentiment.Get(ctx, d.SymbolQuery, now)
	if err != nil {
		l.logger.WithError(err).Warn("sentiment fetch failed; treating as neutral")
		sentimentEntry = model.SentimentEntry{Score: 0, Confidence: 0, FetchedAt: now}
	}

	trend := d.EMA.Classify(price.Mid(), indicators.DefaultEMABuffer)
	signal := strategy.Evaluate(d.RSI.Value(), float64(sentimentEntry.Score), trend, d.Thresholds)

	if signal != model.Hold {
		if err := l.tryIssueOrder(ctx, signal, price, now); err != nil {
			l.logger.WithError(err).Warn("order issuance failed")
		}
	}

	l.updateMetrics(now, signal)
	return nil
}

func (l *Loop) currentPrice(now time.Time) (model.Price, bool) {
	d := l.deps
	if d.Offline && d.SyntheticWalk != nil {
		synthetic := model.Price{Bid: d.SyntheticWalk.Next(), Timestamp: now}
		synthetic.Ask = synthetic.Bid
		d.Prices.Set(d.SymbolID, synthetic)
		l.firstTickSeen = true
		return synthetic, true
	}
	if d.Prices.Stale(d.SymbolID, d.StaleThreshold, now) {
		return model.Price{}, false
	}
	price, ok := d.Prices.Get(d.SymbolID)
	if ok {
		l.firstTickSeen = true
	}
	return price, ok
}

// checkFirstTickDeadline reports a fail-fast diagnostic error once an armed
// first-tick deadline has elapsed with no tick seen yet. A no-op if no
// deadline is armed, or a tick has already arrived.
func (l *Loop) checkFirstTickDeadline(now time.Time) error {
	if l.firstTickSeen || l.firstTickDeadline.IsZero() {
		return nil
	}
	if now.Before(l.firstTickDeadline) {
		return nil
	}
	return apperror.New(apperror.KindTimeout, fmt.Sprintf(
		"no price tick received for symbol %d (%q) within the first-tick window after subscribe; check market hours, symbol mapping, and feed health",
		l.deps.SymbolID, l.deps.SymbolQuery))
}

func (l *Loop) tryIssueOrder(ctx context.Context, signal model.Signal, price model.Price, now time.Time) error {
	d := l.deps
	side, ok := model.SideFromSignal(signal)
	if !ok {
		return nil
	}

	reason := d.RiskGate.Evaluate(d.RiskState, d.Tracker.Count(), d.ATR.Value(), d.ATR.RollingAverage(), now)
	if reason != risk.RejectNone {
		l.logger.WithField("reason", reason.String()).Info("risk gate rejected entry")
		return nil
	}

	plan := orders.BuildPlan(side, price.Mid(), d.TakeProfitPercent/100, d.StopLossPercent/100, d.Metadata, d.Sizing)

	if d.OrderSender == nil {
		l.logger.WithField("side", side).Info("no order sender (dry-run); order not dispatched")
		return nil
	}

	_, err := d.RiskGate.Dispatch(func() error {
		pos, dispatchErr := orders.Dispatch(ctx, d.OrderSender, d.SymbolID, plan, now)
		if dispatchErr != nil {
			return dispatchErr
		}
		d.Tracker.Add(pos)
		if d.Store != nil {
			if storeErr := d.Store.UpsertPosition(ctx, pos); storeErr != nil {
				l.logger.WithError(storeErr).Warn("persisting new position failed; continuing with in-memory state")
			}
		}
		return nil
	})
	return err
}

func (l *Loop) updateMetrics(now time.Time, signal model.Signal) {
	d := l.deps
	if d.Metrics == nil {
		return
	}
	d.Metrics.IncCycle()
	d.Metrics.Update(metrics.Snapshot{
		OpenPositions:     d.Tracker.Count(),
		DailyRealizedPnL:  d.RiskState.DailyRealizedPnL,
		ConsecutiveLosses: d.RiskState.ConsecutiveLosses,
		RiskTripped:       d.RiskState.Tripped,
		LastCycleAt:       now,
		LastSignal:        signal,
	})
}

// HandleExecution feeds one wire execution event into the tracker, records
// the resulting Trade (if the event closed a position) in both the risk
// state and persistence. cmd/agent wires it as the Router's execution
// handler (the onExecution argument of session.NewRouter).
func (l *Loop) HandleExecution(ctx context.Context, ev wire.ExecutionEvent, at time.Time) {
	trade, closed := l.deps.Tracker.HandleExecution(ev, at)
	if !closed {
		return
	}
	l.deps.RiskState.RecordTradeResult(trade.RealizedPnL)
	if trade.RealizedPnL < 0 {
		l.deps.RiskGate.RecordLoss(at)
	}
	if l.deps.Store != nil {
		if err := l.deps.Store.RecordTrade(ctx, trade); err != nil {
			l.logger.WithError(err).Warn("recording closed trade failed")
		}
	}
}

// Reconcile runs the reconciler against a freshly-fetched broker position
// set and applies the healed local set to the tracker.
func (l *Loop) Reconcile(ctx context.Context, brokerPositions []model.Position, now time.Time) (reconcile.Report, error) {
	local := l.deps.Tracker.Open()
	report, audit := reconcile.Reconcile(local, brokerPositions, reconcile.DefaultPolicy, now, l.logger)

	l.deps.Tracker.Replace(report.HealedLocal)
	if l.deps.Store != nil {
		for _, p := range report.HealedLocal {
			if err := l.deps.Store.UpsertPosition(ctx, p); err != nil {
				l.logger.WithError(err).Warn("persisting reconciled position failed")
			}
		}
	}
	for _, a := range audit {
		l.logger.WithFields(logrus.Fields{"kind": a.Kind, "detail": a.Detail}).Info("reconciliation audit entry")
	}
	l.lastReconcile = now
	return report, nil
}
