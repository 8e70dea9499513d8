package strategy

import (
	"testing"

	"github.com/palmoil/agent/internal/indicators"
	"github.com/palmoil/agent/internal/model"
)

func defaultThresholds() Thresholds {
	return Thresholds{Oversold: 30, Overbought: 70, SentimentThreshold: 30}
}

func TestEvaluateBoundarySignalsHoldExactlyAtThreshold(t *testing.T) {
	if got := Evaluate(30.0, 31, indicators.TrendUp, defaultThresholds()); got != model.Hold {
		t.Errorf("rsi=30.0 exact boundary = %v, want Hold", got)
	}
	if got := Evaluate(29.99, 31, indicators.TrendUp, defaultThresholds()); got != model.Buy {
		t.Errorf("rsi=29.99 = %v, want Buy", got)
	}
	if got := Evaluate(70.0, -31, indicators.TrendDown, defaultThresholds()); got != model.Hold {
		t.Errorf("rsi=70.0 exact boundary = %v, want Hold", got)
	}
}

func TestEvaluateRequiresTrendPermission(t *testing.T) {
	th := defaultThresholds()
	if got := Evaluate(20, 50, indicators.TrendDown, th); got != model.Hold {
		t.Errorf("Buy conditions with TrendDown = %v, want Hold", got)
	}
	if got := Evaluate(20, 50, indicators.TrendNeutral, th); got != model.Buy {
		t.Errorf("Buy conditions with TrendNeutral = %v, want Buy", got)
	}
}

func TestEvaluateTrendFilterDisabledIgnoresTrend(t *testing.T) {
	th := defaultThresholds()
	th.TrendFilterDisabled = true
	if got := Evaluate(20, 50, indicators.TrendDown, th); got != model.Buy {
		t.Errorf("with trend filter disabled = %v, want Buy regardless of trend", got)
	}
}

func TestEvaluateSentimentBoundaryIsStrict(t *testing.T) {
	th := defaultThresholds()
	if got := Evaluate(20, 30, indicators.TrendUp, th); got != model.Hold {
		t.Errorf("sentiment=30 exact boundary = %v, want Hold", got)
	}
}
