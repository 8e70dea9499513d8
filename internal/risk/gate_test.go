package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/palmoil/agent/internal/model"
)

func TestEvaluateDailyLossTripAndMidnightRollover(t *testing.T) {
	g := NewGate(DefaultConfig)
	risk := &model.RiskState{SessionStartBalance: 10000, CurrentBalance: 10000, LastResetDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	risk.RecordTradeResult(-500.01)

	if got := g.Evaluate(risk, 0, 0, 0, now); got != RejectDailyLoss {
		t.Fatalf("Evaluate() = %v, want RejectDailyLoss", got)
	}
	if !risk.Tripped {
		t.Error("expected Tripped=true after daily loss breach")
	}

	// Same day: still rejected (tripped flag, checked before re-deriving loss).
	if got := g.Evaluate(risk, 0, 0, 0, now.Add(time.Hour)); got != RejectTripped {
		t.Errorf("Evaluate() same day after trip = %v, want RejectTripped", got)
	}

	// Next UTC day: rollover resets the tripped flag.
	nextDay := now.Add(24 * time.Hour)
	if got := g.Evaluate(risk, 0, 0, 0, nextDay); got != RejectNone {
		t.Errorf("Evaluate() after midnight rollover = %v, want RejectNone", got)
	}
}

func TestEvaluateMaxPositionsRejection(t *testing.T) {
	g := NewGate(DefaultConfig)
	risk := &model.RiskState{SessionStartBalance: 10000, CurrentBalance: 10000, LastResetDate: time.Now().UTC()}
	if got := g.Evaluate(risk, 1, 0, 0, time.Now()); got != RejectMaxPositions {
		t.Errorf("Evaluate() with openPositions=maxPositions = %v, want RejectMaxPositions", got)
	}
}

func TestEvaluateVolatilitySpikeZeroAverageIsNoSpike(t *testing.T) {
	g := NewGate(DefaultConfig)
	risk := &model.RiskState{SessionStartBalance: 10000, CurrentBalance: 10000, LastResetDate: time.Now().UTC()}
	if got := g.Evaluate(risk, 0, 999, 0, time.Now()); got != RejectNone {
		t.Errorf("Evaluate() with zero rolling average = %v, want RejectNone (edge case)", got)
	}
}

func TestEvaluateVolatilitySpikeRejection(t *testing.T) {
	g := NewGate(DefaultConfig)
	risk := &model.RiskState{SessionStartBalance: 10000, CurrentBalance: 10000, LastResetDate: time.Now().UTC()}
	if got := g.Evaluate(risk, 0, 10, 4, time.Now()); got != RejectVolatilitySpike {
		t.Errorf("Evaluate() current=10 avg=4 (>2x) = %v, want RejectVolatilitySpike", got)
	}
}

func TestMonotonicity(t *testing.T) {
	g := NewGate(DefaultConfig)
	now := time.Now().UTC()

	riskS := &model.RiskState{SessionStartBalance: 10000, CurrentBalance: 10000, DailyRealizedPnL: -400, LastResetDate: now}
	if got := g.Evaluate(riskS, 0, 0, 0, now); got != RejectNone {
		t.Fatalf("state S should pass at -400 loss: got %v", got)
	}

	riskSPrime := &model.RiskState{SessionStartBalance: 10000, CurrentBalance: 10000, DailyRealizedPnL: -600, LastResetDate: now}
	if got := g.Evaluate(riskSPrime, 0, 0, 0, now); got != RejectDailyLoss {
		t.Fatalf("state S' with >= daily loss should reject: got %v", got)
	}
}

func TestDispatchOpensBreakerAfterConsecutiveFailures(t *testing.T) {
	g := NewGate(DefaultConfig)
	failing := func() error { return errors.New("broker rejected order") }

	for i := 0; i < 3; i++ {
		if _, err := g.Dispatch(failing); err == nil {
			t.Fatalf("attempt %d: expected failure to propagate", i)
		}
	}

	reason, err := g.Dispatch(failing)
	if reason != RejectBreakerOpen {
		t.Errorf("Dispatch() reason = %v, want RejectBreakerOpen after 3 consecutive failures", reason)
	}
	if err == nil {
		t.Error("expected error when breaker is open")
	}
}
