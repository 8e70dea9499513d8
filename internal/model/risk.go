package model

import "time"

// RiskState tracks the per-session risk counters the gate consults before
// every order.
type RiskState struct {
	SessionStartBalance float64
	CurrentBalance      float64
	DailyRealizedPnL    float64
	ConsecutiveLosses   int
	LastResetDate       time.Time // UTC midnight of the day these counters apply to
	Tripped             bool
	LastVolatilityATR   float64
}

// MaybeRolloverDaily resets daily counters when the UTC date has advanced
// past LastResetDate. Returns true if a rollover happened.
func (r *RiskState) MaybeRolloverDaily(now time.Time) bool {
	today := now.UTC().Truncate(24 * time.Hour)
	last := r.LastResetDate.UTC().Truncate(24 * time.Hour)
	if today.Equal(last) {
		return false
	}
	r.DailyRealizedPnL = 0
	r.ConsecutiveLosses = 0
	r.Tripped = false
	r.LastResetDate = today
	return true
}

// RecordTradeResult updates daily P&L and consecutive-loss counters after a
// trade closes.
func (r *RiskState) RecordTradeResult(pnl float64) {
	r.DailyRealizedPnL += pnl
	r.CurrentBalance += pnl
	if pnl < 0 {
		r.ConsecutiveLosses++
	} else {
		r.ConsecutiveLosses = 0
	}
}
