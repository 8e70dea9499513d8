// Package main is the agent's single entry point: no flags, configuration
// entirely from the environment, wiring every internal package
// into the session/control-loop pair and blocking until shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/palmoil/agent/internal/apperror"
	"github.com/palmoil/agent/internal/candles"
	"github.com/palmoil/agent/internal/config"
	"github.com/palmoil/agent/internal/controlloop"
	"github.com/palmoil/agent/internal/execution"
	"github.com/palmoil/agent/internal/indicators"
	"github.com/palmoil/agent/internal/metrics"
	"github.com/palmoil/agent/internal/model"
	"github.com/palmoil/agent/internal/orders"
	"github.com/palmoil/agent/internal/persistence"
	"github.com/palmoil/agent/internal/pricecache"
	"github.com/palmoil/agent/internal/risk"
	"github.com/palmoil/agent/internal/secret"
	"github.com/palmoil/agent/internal/sentiment"
	"github.com/palmoil/agent/internal/session"
	"github.com/palmoil/agent/internal/strategy"
	"github.com/palmoil/agent/internal/symbols"
	"github.com/palmoil/agent/internal/transport"
	"github.com/palmoil/agent/internal/wire"
)

func main() {
	os.Exit(run())
}

// exit codes.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitAuthFailed     = 2
	exitReconnectLimit = 3
	exitFeedStalled    = 4
)

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfigError
	}

	logger := newLogger(cfg)
	logger.WithFields(logrus.Fields{"environment": cfg.Environment, "symbol": cfg.Symbol, "dry_run": cfg.DryRun}).
		Info("starting agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if cfg.OfflineSyntheticPrices() {
		return runOffline(ctx, cfg, logger)
	}
	return runLive(ctx, cfg, logger)
}

// newLogger builds the agent's structured logger:
// JSON in live, human-readable text otherwise.
func newLogger(cfg *config.Config) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	if cfg.Environment == "live" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if lvl, err := logrus.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL"))); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return logrus.NewEntry(l)
}

// buildCredentials assembles model.Credentials from cfg, wrapping secrets.
func buildCredentials(cfg *config.Config) model.Credentials {
	env, _ := model.ParseEnvironment(cfg.Environment)
	return model.Credentials{
		Environment:  env,
		ClientID:     secret.New(cfg.ClientID),
		ClientSecret: secret.New(cfg.ClientSecret),
		AccountID:    secret.New(cfg.AccountID),
		AccessToken:  secret.New(cfg.AccessToken),
		RefreshToken: secret.New(cfg.RefreshToken),
	}
}

// buildSentimentCache wires the primary/fallback sentiment providers;
// an unconfigured endpoint falls back to an always-neutral stub so the
// control loop's sentiment leg never blocks on a collaborator nobody set up.
func buildSentimentCache(cfg *config.Config, logger *logrus.Entry) *sentiment.Cache {
	var primary sentiment.Provider = neutralProvider{}
	if strings.TrimSpace(cfg.SentimentEndpoint) != "" {
		primary = sentiment.NewHTTPProvider(cfg.SentimentEndpoint, secret.New(cfg.SentimentToken))
	}
	var fallback sentiment.Provider
	if strings.TrimSpace(cfg.SentimentFallbackEndpoint) != "" {
		fallback = sentiment.NewHTTPProvider(cfg.SentimentFallbackEndpoint, secret.New(cfg.SentimentFallbackToken))
	}
	return sentiment.NewCache(primary, fallback, sentiment.Config{
		TTL:               config.DefaultSentimentTTL,
		PrimaryPerMinute:  config.DefaultSentimentPerMinute,
		FallbackPerMinute: config.DefaultSentimentFallbackPerMinute,
	}, logger)
}

// neutralProvider is the sentiment.Provider used when no endpoint is
// configured: a constant neutral score rather than an error on every cycle.
type neutralProvider struct{}

func (neutralProvider) Fetch(ctx context.Context, query string) (int, error) { return 0, nil }

func persistenceStorePath(cfg *config.Config) string {
	if strings.TrimSpace(cfg.PersistenceDBPath) != "" {
		return cfg.PersistenceDBPath
	}
	return "palmoil.db"
}

// runOffline drives the control loop against a synthetic price walk with no
// broker connection at all.
func runOffline(ctx context.Context, cfg *config.Config, logger *logrus.Entry) int {
	store, err := persistence.Open(persistenceStorePath(cfg), logger)
	if err != nil {
		logger.WithError(err).Error("opening persistence store")
		return exitConfigError
	}
	defer store.Close()

	loop, metricsSrv := buildLoop(cfg, logger, store, nil, pricecache.New(), 1)
	loop.SetSymbol(1, nil)

	group, gctx := errgroup.WithContext(ctx)
	if metricsSrv != nil {
		group.Go(func() error { return runMetricsServer(gctx, metricsSrv) })
	}
	group.Go(func() error { return loop.Run(gctx) })

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Warn("offline run ended with error")
	}
	logger.Info("agent stopped")
	return exitOK
}

// runLive dials the broker, authenticates, resolves the configured symbol,
// and drives the control loop for the session's lifetime.
func runLive(ctx context.Context, cfg *config.Config, logger *logrus.Entry) int {
	store, err := persistence.Open(persistenceStorePath(cfg), logger)
	if err != nil {
		logger.WithError(err).Error("opening persistence store")
		return exitConfigError
	}
	defer store.Close()

	priceCache := pricecache.New()
	tr := transport.New(transport.TLSDialer{}, cfg.BrokerHost(), logger)

	var sessionPtr *session.Session
	var loop *controlloop.Loop
	var symbolOnce sync.Once
	var symbolErr error

	onSpot := func(ev wire.SpotEvent) {
		ts := time.Now()
		if ev.TimestampMicro != 0 {
			ts = time.UnixMicro(ev.TimestampMicro)
		}
		priceCache.Set(ev.SymbolID, model.Price{Bid: ev.Bid, Ask: ev.Ask, Timestamp: ts})
	}
	onExecution := func(ev wire.ExecutionEvent) {
		loop.HandleExecution(context.Background(), ev, time.Now())
	}
	onError := func(code, description string) {
		logger.WithFields(logrus.Fields{"code": code, "description": description}).Warn("protocol error event")
	}

	router := session.NewRouter(tr, logger, onSpot, onExecution, onError)
	authenticator := session.NewAuthenticator(router, nil, logger)

	var sender orders.Sender = router
	if cfg.IsDryRun() {
		sender = nil
	}
	loop, metricsSrv := buildLoop(cfg, logger, store, sender, priceCache, 1)

	onReady := func(ctx context.Context, isReconnect bool) error {
		var outerErr error
		symbolOnce.Do(func() {
			var aliasDoc []byte
			if cfg.AliasFilePath != "" {
				raw, err := os.ReadFile(cfg.AliasFilePath)
				if err != nil {
					outerErr = apperror.Wrap(apperror.KindConfig, err, "reading symbol alias file")
					return
				}
				aliasDoc = raw
			}
			resolver, err := symbols.New(router, aliasDoc, logger)
			if err != nil {
				outerErr = err
				return
			}
			sym, md, err := resolver.Resolve(ctx, cfg.Symbol)
			if err != nil {
				outerErr = err
				return
			}
			loop.SetSymbol(sym.ID, md)
			sessionPtr.SetSubscription([]int64{sym.ID}, true)
			symbolErr = nil
		})
		if outerErr != nil {
			return outerErr
		}
		if symbolErr != nil {
			return symbolErr
		}

		if err := sessionPtr.Subscribe(ctx, 30*time.Second); err != nil {
			return err
		}
		loop.ArmFirstTickDeadline(time.Now(), controlloop.DefaultFirstTickWindow)

		brokerPositions, err := fetchBrokerPositions(ctx, router)
		if err != nil {
			logger.WithError(err).Warn("startup reconciliation fetch failed; continuing with in-memory state")
			return nil
		}
		if _, err := loop.Reconcile(ctx, brokerPositions, time.Now()); err != nil {
			logger.WithError(err).Warn("reconciliation pass failed")
		}
		logger.WithField("is_reconnect", isReconnect).Info("session ready")
		return nil
	}

	var fatalErr error
	hooks := session.Hooks{
		OnReady:         onReady,
		OnProtocolError: onError,
		OnFatal: func(err error) {
			fatalErr = err
		},
	}

	sessionPtr = session.New(tr, authenticator, router, buildCredentials(cfg), session.DefaultConfig, hooks, logger)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		sessionPtr.Run(gctx)
		return nil
	})
	group.Go(func() error {
		session.Heartbeat(gctx, router, session.DefaultHeartbeatInterval, logger)
		return nil
	})
	if metricsSrv != nil {
		group.Go(func() error { return runMetricsServer(gctx, metricsSrv) })
	}
	group.Go(func() error {
		return runWhenReady(gctx, sessionPtr, loop)
	})
	group.Go(func() error {
		return runPeriodicReconcile(gctx, sessionPtr, router, loop, logger)
	})

	groupErr := group.Wait()

	if fatalErr != nil {
		logger.WithError(fatalErr).Error("agent stopped on fatal error")
		if apperror.Is(fatalErr, apperror.KindAuthFailed) {
			return exitAuthFailed
		}
		return exitReconnectLimit
	}
	if groupErr != nil && !errors.Is(groupErr, context.Canceled) {
		logger.WithError(groupErr).Error("agent stopped on fatal error")
		if apperror.Is(groupErr, apperror.KindTimeout) {
			return exitFeedStalled
		}
		return exitReconnectLimit
	}
	logger.Info("agent stopped")
	return exitOK
}

// runWhenReady starts the control loop once the session first reaches Ready,
// and stops it (by returning) when ctx is cancelled.
func runWhenReady(ctx context.Context, s *session.Session, loop *controlloop.Loop) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.State() == model.StateReady {
				return loop.Run(ctx)
			}
		}
	}
}

// runPeriodicReconcile runs a reconciliation pass on a fixed interval in
// addition to the startup/reconnect passes OnReady triggers.
func runPeriodicReconcile(ctx context.Context, s *session.Session, router *session.Router, loop *controlloop.Loop, logger *logrus.Entry) error {
	const interval = 15 * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.State() != model.StateReady {
				continue
			}
			positions, err := fetchBrokerPositions(ctx, router)
			if err != nil {
				logger.WithError(err).Warn("periodic reconciliation fetch failed")
				continue
			}
			if _, err := loop.Reconcile(ctx, positions, time.Now()); err != nil {
				logger.WithError(err).Warn("periodic reconciliation failed")
			}
		}
	}
}

// fetchBrokerPositions asks the broker for its current open positions and
// converts the wire representation to the domain model.
func fetchBrokerPositions(ctx context.Context, router *session.Router) ([]model.Position, error) {
	if err := router.Send(wire.Envelope{PayloadType: uint32(wire.PayloadReconcileReq), Payload: wire.ReconcileReq{}.Marshal()}); err != nil {
		return nil, err
	}
	env, err := router.WaitFor(ctx, wire.PayloadReconcileRes, 30*time.Second)
	if err != nil {
		return nil, err
	}
	res, err := wire.UnmarshalReconcileRes(env.Payload)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindProtocol, err, "decoding ReconcileRes")
	}
	return positionsFromWire(res.Positions), nil
}

// positionsFromWire converts the broker's reconciliation snapshot into the
// domain model; split out from fetchBrokerPositions so it can be tested
// without a live router.
func positionsFromWire(infos []wire.PositionInfo) []model.Position {
	out := make([]model.Position, 0, len(infos))
	for _, p := range infos {
		side := model.SideBuy
		if p.Side == 1 {
			side = model.SideSell
		}
		out = append(out, model.Position{
			BrokerPositionID: p.BrokerPositionID,
			SymbolID:         p.SymbolID,
			Side:             side,
			Volume:           p.Volume,
			EntryPrice:       p.EntryPrice,
			TakeProfitPrice:  p.TakeProfitPrice,
			StopLossPrice:    p.StopLossPrice,
		})
	}
	return out
}

// restoreOpenPositions loads any positions persisted from a prior run into
// tracker, so a restart doesn't forget what the broker last confirmed open.
// A load failure is logged and treated as an empty tracker: reconciliation
// against the broker's live position set will re-derive the correct state.
func restoreOpenPositions(store *persistence.Store, tracker *execution.Tracker, logger *logrus.Entry) {
	if store == nil {
		return
	}
	positions, err := store.LoadOpenPositions(context.Background())
	if err != nil {
		logger.WithError(err).Warn("loading persisted open positions failed; starting with an empty tracker")
		return
	}
	for _, p := range positions {
		tracker.Add(p)
	}
}

// riskConfigFromAgent overlays the configurable risk knobs onto risk.DefaultConfig,
// leaving the cooldown and volatility-spike factor at their defaults.
func riskConfigFromAgent(cfg *config.Config) risk.Config {
	c := risk.DefaultConfig
	c.MaxPositions = cfg.MaxPositions
	c.MaxDailyLossPercent = cfg.MaxDailyLossPercent
	return c
}

// buildLoop assembles every control-loop collaborator from cfg. sender is
// nil in offline mode and in live dry-run mode; the loop then skips order
// dispatch.
func buildLoop(cfg *config.Config, logger *logrus.Entry, store *persistence.Store, sender orders.Sender, prices *pricecache.Cache, symbolID int64) (*controlloop.Loop, *metrics.Server) {
	var metricsRegistry *metrics.Registry
	var metricsSrv *metrics.Server
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		metricsRegistry = metrics.NewRegistry(reg, logger)
		addr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		metricsSrv = metrics.NewServer(addr, metricsRegistry)
	}

	tracker := execution.NewTracker(logger)
	restoreOpenPositions(store, tracker, logger)

	deps := controlloop.Deps{
		Prices:     prices,
		Aggregator: candles.NewAggregator(controlloop.BarDuration),
		RSI:        indicators.NewRSI(cfg.RSIPeriod),
		EMA:        indicators.NewEMA(indicators.DefaultEMAPeriod),
		ATR:        indicators.NewATR(indicators.DefaultATRPeriod),
		Sentiment:  buildSentimentCache(cfg, logger),
		RiskGate: risk.NewGate(riskConfigFromAgent(cfg)),
		RiskState: &model.RiskState{
			SessionStartBalance: cfg.InitialBalance,
			CurrentBalance:      cfg.InitialBalance,
			LastResetDate:       time.Now().UTC(),
		},
		Tracker:           tracker,
		OrderSender:       sender,
		Store:             store,
		Metrics:           metricsRegistry,
		SymbolID:          symbolID,
		SymbolQuery:       cfg.Symbol,
		Sizing:            orders.Sizing{RiskPerTrade: cfg.RiskPerTrade, Balance: cfg.InitialBalance},
		Thresholds:        strategy.Thresholds{Oversold: cfg.RSIOversold, Overbought: cfg.RSIOverbought, SentimentThreshold: cfg.SentimentThreshold},
		TakeProfitPercent: cfg.TakeProfitPercent,
		StopLossPercent:   cfg.StopLossPercent,
		Offline:           cfg.OfflineSyntheticPrices(),
		Logger:            logger,
	}
	if deps.Offline {
		deps.SyntheticWalk = controlloop.NewSyntheticPriceWalk(100, 50, 150, 0.5)
	}

	return controlloop.New(deps, cfg.CycleInterval), metricsSrv
}

// runMetricsServer starts srv and shuts it down cooperatively on ctx cancel.
func runMetricsServer(ctx context.Context, srv *metrics.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
