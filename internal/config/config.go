// Package config loads the agent's configuration from environment variables
// (including the path of an optional symbol-alias override file, which
// cmd/agent reads and hands to internal/symbols), in an aggregated-validation style:
// every missing/invalid field is collected into one error rather than
// failing on the first.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults for every tunable knob.
const (
	DefaultRedirectURI         = "http://localhost:8899/callback"
	DefaultRSIPeriod           = 14
	DefaultRSIOversold         = 30.0
	DefaultRSIOverbought       = 70.0
	DefaultSentimentThreshold  = 30.0
	DefaultTakeProfitPercent   = 2.0
	DefaultStopLossPercent     = 1.5
	DefaultMaxPositions        = 1
	DefaultMaxDailyLossPercent = 5.0
	DefaultRiskPerTrade        = 0.01
	DefaultInitialBalance      = 10000.0
	DefaultCycleIntervalLive   = 60 * time.Second
	DefaultCycleIntervalDryRun = 5 * time.Second
	DefaultMetricsHost         = "0.0.0.0"
	DefaultMetricsPort         = 9090

	// DemoHost and LiveHost are cTrader Open API's documented TCP endpoints
	// (TLS, protobuf-framed) for the two environments.
	DemoHost = "demo.ctraderapi.com:5035"
	LiveHost = "live.ctraderapi.com:5035"

	DefaultSentimentPerMinute         = 60
	DefaultSentimentFallbackPerMinute = 10
	DefaultSentimentTTL               = 5 * time.Minute
)

// Config is the complete agent configuration, assembled entirely from
// environment variables.
type Config struct {
	Environment  string // demo | live
	ClientID     string
	ClientSecret string
	AccountID    string
	AccessToken  string
	RefreshToken string
	RedirectURI  string

	Symbol string

	RSIPeriod     int
	RSIOversold   float64
	RSIOverbought float64

	SentimentThreshold float64

	TakeProfitPercent float64
	StopLossPercent   float64

	MaxPositions        int
	MaxDailyLossPercent float64
	RiskPerTrade        float64
	InitialBalance      float64

	CycleInterval time.Duration
	DryRun        bool

	PersistenceDBPath string
	MetricsEnabled    bool
	MetricsHost       string
	MetricsPort       int

	AliasFilePath string

	SentimentEndpoint         string
	SentimentToken            string
	SentimentFallbackEndpoint string
	SentimentFallbackToken    string
}

// BrokerHost returns the cTrader Open API TLS endpoint for c.Environment.
func (c *Config) BrokerHost() string {
	if c.Environment == "live" {
		return LiveHost
	}
	return DemoHost
}

// Load reads and validates configuration from the process environment.
func Load() (*Config, error) {
	c := &Config{
		Environment:  strings.ToLower(strings.TrimSpace(os.Getenv("CTRADER_ENVIRONMENT"))),
		ClientID:     os.Getenv("CTRADER_CLIENT_ID"),
		ClientSecret: os.Getenv("CTRADER_CLIENT_SECRET"),
		AccountID:    os.Getenv("CTRADER_ACCOUNT_ID"),
		AccessToken:  os.Getenv("CTRADER_ACCESS_TOKEN"),
		RefreshToken: os.Getenv("CTRADER_REFRESH_TOKEN"),
		RedirectURI:  getEnvOr("CTRADER_REDIRECT_URI", DefaultRedirectURI),

		Symbol: os.Getenv("SYMBOL"),

		PersistenceDBPath: os.Getenv("PERSISTENCE_DB_PATH"),
		MetricsHost:       getEnvOr("METRICS_HOST", DefaultMetricsHost),
		AliasFilePath:     os.Getenv("CTRADER_ALIAS_FILE"),

		SentimentEndpoint:         os.Getenv("SENTIMENT_ENDPOINT"),
		SentimentToken:            os.Getenv("SENTIMENT_TOKEN"),
		SentimentFallbackEndpoint: os.Getenv("SENTIMENT_FALLBACK_ENDPOINT"),
		SentimentFallbackToken:    os.Getenv("SENTIMENT_FALLBACK_TOKEN"),
	}

	var errs []string
	appendErr := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	c.RSIPeriod = getEnvIntOr("RSI_PERIOD", DefaultRSIPeriod, appendErr)
	c.RSIOversold = getEnvFloatOr("RSI_OVERSOLD", DefaultRSIOversold, appendErr)
	c.RSIOverbought = getEnvFloatOr("RSI_OVERBOUGHT", DefaultRSIOverbought, appendErr)
	c.SentimentThreshold = getEnvFloatOr("SENTIMENT_THRESHOLD", DefaultSentimentThreshold, appendErr)
	c.TakeProfitPercent = getEnvFloatOr("TAKE_PROFIT_PERCENT", DefaultTakeProfitPercent, appendErr)
	c.StopLossPercent = getEnvFloatOr("STOP_LOSS_PERCENT", DefaultStopLossPercent, appendErr)
	c.MaxPositions = getEnvIntOr("MAX_POSITIONS", DefaultMaxPositions, appendErr)
	c.MaxDailyLossPercent = getEnvFloatOr("MAX_DAILY_LOSS_PERCENT", DefaultMaxDailyLossPercent, appendErr)
	c.RiskPerTrade = getEnvFloatOr("RISK_PER_TRADE", DefaultRiskPerTrade, appendErr)
	c.InitialBalance = getEnvFloatOr("INITIAL_BALANCE", DefaultInitialBalance, appendErr)
	c.MetricsEnabled = getEnvBoolOr("METRICS_ENABLED", false, appendErr)
	c.MetricsPort = getEnvIntOr("METRICS_PORT", DefaultMetricsPort, appendErr)
	c.DryRun = getEnvBoolOr("DRY_RUN", false, appendErr)

	defaultCycle := DefaultCycleIntervalLive
	if c.DryRun {
		defaultCycle = DefaultCycleIntervalDryRun
	}
	if raw := strings.TrimSpace(os.Getenv("CYCLE_INTERVAL_SECS")); raw == "" {
		c.CycleInterval = defaultCycle
	} else if secs, err := strconv.Atoi(raw); err != nil {
		appendErr("CYCLE_INTERVAL_SECS: invalid integer %q", raw)
	} else {
		c.CycleInterval = time.Duration(secs) * time.Second
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate aggregates every configuration problem into a single error, in
// an aggregated-validation style.
func (c *Config) Validate() error {
	var errs []string
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch c.Environment {
	case "demo", "live":
	default:
		fail("CTRADER_ENVIRONMENT must be 'demo' or 'live' (got %q)", c.Environment)
	}

	if strings.TrimSpace(c.ClientID) == "" {
		fail("CTRADER_CLIENT_ID is required")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		fail("CTRADER_CLIENT_SECRET is required")
	}
	if strings.TrimSpace(c.AccountID) == "" {
		fail("CTRADER_ACCOUNT_ID is required")
	}

	if c.Environment == "live" {
		if strings.TrimSpace(c.AccessToken) == "" {
			fail("CTRADER_ACCESS_TOKEN is required in live environment")
		}
		if strings.TrimSpace(c.RefreshToken) == "" {
			fail("CTRADER_REFRESH_TOKEN is required in live environment")
		}
	}

	if strings.TrimSpace(c.Symbol) == "" {
		fail("SYMBOL is required")
	}

	if c.RSIPeriod <= 0 {
		fail("RSI_PERIOD must be > 0")
	}
	if c.RSIOversold <= 0 || c.RSIOversold >= 100 {
		fail("RSI_OVERSOLD must be in (0,100)")
	}
	if c.RSIOverbought <= 0 || c.RSIOverbought >= 100 {
		fail("RSI_OVERBOUGHT must be in (0,100)")
	}
	if c.RSIOversold >= c.RSIOverbought {
		fail("RSI_OVERSOLD (%.2f) must be < RSI_OVERBOUGHT (%.2f)", c.RSIOversold, c.RSIOverbought)
	}

	if c.SentimentThreshold < 0 || c.SentimentThreshold > 100 {
		fail("SENTIMENT_THRESHOLD must be in [0,100]")
	}

	if c.TakeProfitPercent <= 0 {
		fail("TAKE_PROFIT_PERCENT must be > 0")
	}
	if c.StopLossPercent <= 0 {
		fail("STOP_LOSS_PERCENT must be > 0")
	}

	if c.MaxPositions <= 0 {
		fail("MAX_POSITIONS must be > 0")
	}
	if c.MaxDailyLossPercent <= 0 {
		fail("MAX_DAILY_LOSS_PERCENT must be > 0")
	}
	if c.RiskPerTrade <= 0 || c.RiskPerTrade > 1 {
		fail("RISK_PER_TRADE must be in (0,1]")
	}
	if c.InitialBalance <= 0 {
		fail("INITIAL_BALANCE must be > 0")
	}
	if c.CycleInterval <= 0 {
		fail("CYCLE_INTERVAL_SECS must be > 0")
	}

	if c.MetricsEnabled {
		if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
			fail("METRICS_PORT must be between 1 and 65535 when METRICS_ENABLED is true")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsDryRun reports whether real order placement is blocked.
func (c *Config) IsDryRun() bool {
	return c.DryRun
}

// OfflineSyntheticPrices reports whether the agent should fall back to a
// bounded-random-walk synthetic price feed instead of dialing the broker:
// DRY_RUN with no access token configured.
func (c *Config) OfflineSyntheticPrices() bool {
	return c.DryRun && strings.TrimSpace(c.AccessToken) == ""
}

func getEnvOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOr(key string, fallback int, onErr func(format string, args ...interface{})) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		onErr("%s: invalid integer %q", key, raw)
		return fallback
	}
	return v
}

func getEnvFloatOr(key string, fallback float64, onErr func(format string, args ...interface{})) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		onErr("%s: invalid float %q", key, raw)
		return fallback
	}
	return v
}

func getEnvBoolOr(key string, fallback bool, onErr func(format string, args ...interface{})) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		onErr("%s: invalid boolean %q", key, raw)
		return fallback
	}
	return v
}
