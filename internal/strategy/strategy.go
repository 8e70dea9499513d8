// Package strategy generates Buy/Sell/Hold signals from indicator and
// sentiment inputs. Pure functions; no I/O.
package strategy

import (
	"github.com/palmoil/agent/internal/indicators"
	"github.com/palmoil/agent/internal/model"
)

// Thresholds bundles the signal-generation tunables.
type Thresholds struct {
	Oversold            float64
	Overbought          float64
	SentimentThreshold  float64
	TrendFilterDisabled bool
}

// Evaluate produces a Signal from the current RSI, sentiment score, and
// trend, per the strict-inequality boundary rules.
func Evaluate(rsi, sentimentScore float64, trend indicators.Trend, t Thresholds) model.Signal {
	trendAllowsBuy := t.TrendFilterDisabled || trend.AllowsBuy()
	trendAllowsSell := t.TrendFilterDisabled || trend.AllowsSell()

	if rsi < t.Oversold && sentimentScore > t.SentimentThreshold && trendAllowsBuy {
		return model.Buy
	}
	if rsi > t.Overbought && sentimentScore < -t.SentimentThreshold && trendAllowsSell {
		return model.Sell
	}
	return model.Hold
}
