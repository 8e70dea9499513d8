// Package metrics exposes a read-only snapshot of trading-loop state plus a
// tiny HTTP surface, built on chi: a JSON status endpoint and a Prometheus
// exporter that consumers poll out-of-band.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/palmoil/agent/internal/model"
)

// Snapshot is the read-only view handed to consumers.
type Snapshot struct {
	ConnState         model.ConnState `json:"conn_state"`
	OpenPositions     int             `json:"open_positions"`
	TotalTrades       int             `json:"total_trades"`
	DailyRealizedPnL  float64         `json:"daily_realized_pnl"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	RiskTripped       bool            `json:"risk_tripped"`
	LastCycleAt       time.Time       `json:"last_cycle_at"`
	LastSignal        model.Signal    `json:"last_signal"`
	CycleCount        int64           `json:"cycle_count"`
}

// Registry owns the current Snapshot plus the Prometheus collectors mirroring
// it. Registration is best-effort: a duplicate-registration error is logged,
// never fatal.
type Registry struct {
	mu       sync.RWMutex
	snapshot Snapshot
	logger   *logrus.Entry
	gatherer prometheus.Gatherer

	openPositions     prometheus.Gauge
	dailyPnL          prometheus.Gauge
	consecutiveLosses prometheus.Gauge
	riskTripped       prometheus.Gauge
	cycleCount        prometheus.Counter
}

// NewRegistry constructs a Registry and attempts best-effort registration of
// its collectors against reg (pass prometheus.NewRegistry() in production and
// in tests; its Gather output backs the /metrics endpoint in NewServer).
func NewRegistry(reg *prometheus.Registry, logger *logrus.Entry) *Registry {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("subsystem", "metrics")

	r := &Registry{
		logger:            logger,
		gatherer:          reg,
		openPositions:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "palmoil_open_positions", Help: "Currently tracked open positions."}),
		dailyPnL:          prometheus.NewGauge(prometheus.GaugeOpts{Name: "palmoil_daily_realized_pnl", Help: "Realised P&L for the current trading day."}),
		consecutiveLosses: prometheus.NewGauge(prometheus.GaugeOpts{Name: "palmoil_consecutive_losses", Help: "Consecutive losing trades."}),
		riskTripped:       prometheus.NewGauge(prometheus.GaugeOpts{Name: "palmoil_risk_tripped", Help: "1 if the risk gate is currently tripped."}),
		cycleCount:        prometheus.NewCounter(prometheus.CounterOpts{Name: "palmoil_control_loop_cycles_total", Help: "Total control loop cycles executed."}),
	}

	for _, c := range []prometheus.Collector{r.openPositions, r.dailyPnL, r.consecutiveLosses, r.riskTripped, r.cycleCount} {
		if err := reg.Register(c); err != nil {
			r.logger.WithError(err).Warn("metric registration failed; continuing without it")
		}
	}

	return r
}

// Update replaces the current snapshot and mirrors its fields onto the
// Prometheus gauges.
func (r *Registry) Update(s Snapshot) {
	r.mu.Lock()
	r.snapshot = s
	r.mu.Unlock()

	r.openPositions.Set(float64(s.OpenPositions))
	r.dailyPnL.Set(s.DailyRealizedPnL)
	r.consecutiveLosses.Set(float64(s.ConsecutiveLosses))
	if s.RiskTripped {
		r.riskTripped.Set(1)
	} else {
		r.riskTripped.Set(0)
	}
}

// IncCycle bumps the control-loop cycle counter by one.
func (r *Registry) IncCycle() {
	r.cycleCount.Inc()
}

// Snapshot returns a copy of the current state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Server is the narrow HTTP surface: /healthz, /snapshot, /metrics.
type Server struct {
	router *chi.Mux
	http   *http.Server
	reg    *Registry
}

// NewServer builds the chi router and binds it to addr; call Start to listen.
// The /metrics endpoint gathers from reg's own registry, not the global
// DefaultGatherer, so it reflects exactly the collectors reg registered.
func NewServer(addr string, reg *Registry) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/snapshot", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reg.Snapshot())
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg.gatherer, promhttp.HandlerOpts{}))

	return &Server{
		router: r,
		http:   &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second},
		reg:    reg,
	}
}

// Start serves HTTP and blocks until the server stops, returning
// http.ErrServerClosed after Shutdown; callers run it in its own goroutine.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
