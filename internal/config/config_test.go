package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CTRADER_ENVIRONMENT", "CTRADER_CLIENT_ID", "CTRADER_CLIENT_SECRET", "CTRADER_ACCOUNT_ID",
		"CTRADER_ACCESS_TOKEN", "CTRADER_REFRESH_TOKEN", "CTRADER_REDIRECT_URI", "SYMBOL",
		"RSI_PERIOD", "RSI_OVERSOLD", "RSI_OVERBOUGHT", "SENTIMENT_THRESHOLD",
		"TAKE_PROFIT_PERCENT", "STOP_LOSS_PERCENT", "MAX_POSITIONS", "MAX_DAILY_LOSS_PERCENT",
		"RISK_PER_TRADE", "INITIAL_BALANCE", "CYCLE_INTERVAL_SECS", "DRY_RUN",
		"PERSISTENCE_DB_PATH", "METRICS_ENABLED", "METRICS_HOST", "METRICS_PORT", "CTRADER_ALIAS_FILE",
	}
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func setValidDemoEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CTRADER_ENVIRONMENT", "demo")
	t.Setenv("CTRADER_CLIENT_ID", "id")
	t.Setenv("CTRADER_CLIENT_SECRET", "secret")
	t.Setenv("CTRADER_ACCOUNT_ID", "acct")
	t.Setenv("SYMBOL", "PALMOIL")
}

func TestLoad_DefaultsAppliedInDemoMode(t *testing.T) {
	clearEnv(t)
	setValidDemoEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RSIPeriod != DefaultRSIPeriod {
		t.Errorf("RSIPeriod = %d, want %d", cfg.RSIPeriod, DefaultRSIPeriod)
	}
	if cfg.RSIOversold != DefaultRSIOversold || cfg.RSIOverbought != DefaultRSIOverbought {
		t.Errorf("RSI bounds = (%v,%v), want (%v,%v)", cfg.RSIOversold, cfg.RSIOverbought, DefaultRSIOversold, DefaultRSIOverbought)
	}
	if cfg.RedirectURI != DefaultRedirectURI {
		t.Errorf("RedirectURI = %q, want %q", cfg.RedirectURI, DefaultRedirectURI)
	}
	if cfg.CycleInterval != DefaultCycleIntervalLive {
		t.Errorf("CycleInterval = %v, want %v (not dry-run)", cfg.CycleInterval, DefaultCycleIntervalLive)
	}
}

func TestBrokerHost_SelectsDemoOrLiveEndpoint(t *testing.T) {
	demo := &Config{Environment: "demo"}
	if got := demo.BrokerHost(); got != DemoHost {
		t.Errorf("BrokerHost() = %q, want %q", got, DemoHost)
	}
	live := &Config{Environment: "live"}
	if got := live.BrokerHost(); got != LiveHost {
		t.Errorf("BrokerHost() = %q, want %q", got, LiveHost)
	}
}

func TestLoad_SentimentEndpointsAreOptional(t *testing.T) {
	clearEnv(t)
	setValidDemoEnv(t)
	t.Setenv("SENTIMENT_ENDPOINT", "")
	t.Setenv("SENTIMENT_FALLBACK_ENDPOINT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want success with sentiment unconfigured", err)
	}
	if cfg.SentimentEndpoint != "" || cfg.SentimentFallbackEndpoint != "" {
		t.Errorf("sentiment endpoints = (%q,%q), want empty", cfg.SentimentEndpoint, cfg.SentimentFallbackEndpoint)
	}
}

func TestLoad_SentimentEndpointsAreWiredFromEnv(t *testing.T) {
	clearEnv(t)
	setValidDemoEnv(t)
	t.Setenv("SENTIMENT_ENDPOINT", "https://sentiment.example.com/score")
	t.Setenv("SENTIMENT_TOKEN", "tok-primary")
	t.Setenv("SENTIMENT_FALLBACK_ENDPOINT", "https://sentiment-backup.example.com/score")
	t.Setenv("SENTIMENT_FALLBACK_TOKEN", "tok-fallback")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SentimentEndpoint != "https://sentiment.example.com/score" {
		t.Errorf("SentimentEndpoint = %q", cfg.SentimentEndpoint)
	}
	if cfg.SentimentToken != "tok-primary" {
		t.Errorf("SentimentToken = %q", cfg.SentimentToken)
	}
	if cfg.SentimentFallbackEndpoint != "https://sentiment-backup.example.com/score" {
		t.Errorf("SentimentFallbackEndpoint = %q", cfg.SentimentFallbackEndpoint)
	}
	if cfg.SentimentFallbackToken != "tok-fallback" {
		t.Errorf("SentimentFallbackToken = %q", cfg.SentimentFallbackToken)
	}
}

func TestLoad_DryRunUsesShorterDefaultCycle(t *testing.T) {
	clearEnv(t)
	setValidDemoEnv(t)
	t.Setenv("DRY_RUN", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CycleInterval != DefaultCycleIntervalDryRun {
		t.Errorf("CycleInterval = %v, want %v", cfg.CycleInterval, DefaultCycleIntervalDryRun)
	}
	if !cfg.OfflineSyntheticPrices() {
		t.Error("expected OfflineSyntheticPrices() true when DRY_RUN set and no access token")
	}
}

func TestLoad_MissingRequiredFieldsAggregated(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for empty environment")
	}
	msg := err.Error()
	for _, want := range []string{"CTRADER_ENVIRONMENT", "CTRADER_CLIENT_ID", "CTRADER_CLIENT_SECRET", "CTRADER_ACCOUNT_ID", "SYMBOL"} {
		if !contains(msg, want) {
			t.Errorf("error %q missing mention of %s", msg, want)
		}
	}
}

func TestLoad_LiveRequiresTokens(t *testing.T) {
	clearEnv(t)
	setValidDemoEnv(t)
	t.Setenv("CTRADER_ENVIRONMENT", "live")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when live environment lacks access/refresh tokens")
	}
	if !contains(err.Error(), "CTRADER_ACCESS_TOKEN") || !contains(err.Error(), "CTRADER_REFRESH_TOKEN") {
		t.Errorf("error %q missing token requirement mentions", err.Error())
	}
}

func TestValidate_RSIBoundsOrdering(t *testing.T) {
	clearEnv(t)
	setValidDemoEnv(t)
	t.Setenv("RSI_OVERSOLD", "70")
	t.Setenv("RSI_OVERBOUGHT", "30")

	_, err := Load()
	if err == nil || !contains(err.Error(), "must be <") {
		t.Fatalf("expected ordering error, got %v", err)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
