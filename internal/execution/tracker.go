// Package execution tracks open local positions against broker execution
// events: fills, partial fills, and closes.
package execution

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/palmoil/agent/internal/model"
	"github.com/palmoil/agent/internal/wire"
)

// MissingGracePeriod is how long a local position may go without a broker
// counterpart before it is tagged missing.
const MissingGracePeriod = 2 * time.Minute

// Tracker owns the set of locally-known open positions: "position tracker owns positions").
type Tracker struct {
	mu        sync.Mutex
	positions map[string]*model.Position // keyed by LocalID
	logger    *logrus.Entry
}

// NewTracker constructs an empty Tracker.
func NewTracker(logger *logrus.Entry) *Tracker {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tracker{positions: make(map[string]*model.Position), logger: logger.WithField("subsystem", "execution")}
}

// Add records a newly-dispatched, unconfirmed Position.
func (t *Tracker) Add(p model.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := p
	t.positions[p.LocalID] = &cp
}

// Open returns a snapshot slice of all currently-tracked positions.
func (t *Tracker) Open() []model.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, *p)
	}
	return out
}

// Count returns the number of currently-tracked open positions.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.positions)
}

// Replace atomically swaps the tracked set for positions, keyed by LocalID.
// Used after reconciliation applies its healed local set.
func (t *Tracker) Replace(positions []model.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := make(map[string]*model.Position, len(positions))
	for _, p := range positions {
		cp := p
		next[p.LocalID] = &cp
	}
	t.positions = next
}

// HandleExecution applies one ExecutionEvent: binds broker_position_id on
// first fill, updates volume on partial fill, and removes+returns a Trade on
// close. Returns (trade, true) only for a close event; ok=false otherwise.
// An event whose broker position id matches nothing locally is applied to a
// local position not yet confirmed by the broker, if there is one; only when
// there is none is it an orphan (logged, not erred, ok=false).
func (t *Tracker) HandleExecution(ev wire.ExecutionEvent, now time.Time) (model.Trade, bool) {
	side, ok := sideFromWireCode(ev.Side)
	if !ok {
		t.logger.WithField("raw_side", ev.Side).Warn("execution event with unknown side code; skipping")
		return model.Trade{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.findByBrokerID(ev.BrokerPositionID)
	if p == nil {
		p = t.findFirstUnconfirmed()
	}
	if p == nil {
		t.logger.WithField("broker_position_id", ev.BrokerPositionID).Warn("execution event for unknown position (orphan)")
		return model.Trade{}, false
	}

	p.BrokerPositionID = ev.BrokerPositionID
	p.LastChecked = now

	switch ev.Type {
	case wire.ExecutionFilled:
		p.Volume = ev.Volume
		return model.Trade{}, false
	case wire.ExecutionPartial:
		p.Volume = ev.Volume
		return model.Trade{}, false
	case wire.ExecutionClosed:
		pnl := model.RealizedPnL(side, p.EntryPrice, ev.Price, p.Volume)
		trade := model.Trade{
			Position:    *p,
			ExitPrice:   ev.Price,
			ExitReason:  classifyExitReason(side, p, ev.Price),
			RealizedPnL: pnl,
			ClosedAt:    now,
		}
		delete(t.positions, p.LocalID)
		return trade, true
	default:
		return model.Trade{}, false
	}
}

func (t *Tracker) findByBrokerID(id string) *model.Position {
	if id == "" {
		return nil
	}
	for _, p := range t.positions {
		if p.BrokerPositionID == id {
			return p
		}
	}
	return nil
}

func (t *Tracker) findFirstUnconfirmed() *model.Position {
	for _, p := range t.positions {
		if !p.Confirmed() {
			return p
		}
	}
	return nil
}

// Missing returns positions that have gone without a reconciliation touch
// for longer than MissingGracePeriod.
func (t *Tracker) Missing(now time.Time) []model.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []model.Position
	for _, p := range t.positions {
		if now.Sub(p.LastChecked) > MissingGracePeriod {
			out = append(out, *p)
		}
	}
	return out
}

func sideFromWireCode(code int32) (model.Side, bool) {
	switch code {
	case 0:
		return model.SideBuy, true
	case 1:
		return model.SideSell, true
	default:
		return 0, false
	}
}

func classifyExitReason(side model.Side, p *model.Position, exitPrice float64) model.ExitReason {
	switch side {
	case model.SideBuy:
		if exitPrice >= p.TakeProfitPrice {
			return model.ExitTakeProfit
		}
		if exitPrice <= p.StopLossPrice {
			return model.ExitStopLoss
		}
	case model.SideSell:
		if exitPrice <= p.TakeProfitPrice {
			return model.ExitTakeProfit
		}
		if exitPrice >= p.StopLossPrice {
			return model.ExitStopLoss
		}
	}
	return model.ExitManual
}
