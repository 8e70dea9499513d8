package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/palmoil/agent/internal/apperror"
	"github.com/palmoil/agent/internal/model"
	"github.com/palmoil/agent/internal/wire"
)

// Transport is the minimal connection-lifecycle capability the session
// needs; internal/transport.Transport satisfies it.
type Transport interface {
	Connect(ctx context.Context, dispatch func(wire.Envelope), onDisconnect func(error)) error
	Send(wire.Envelope) error
	Close() error
}

// Hooks are the session's callbacks into the rest of the system.
type Hooks struct {
	// OnReady fires after Ready is entered, both on first connect and on
	// every reconnect; isReconnect distinguishes the two so the caller can
	// trigger reconciliation + subscription replay.
	OnReady func(ctx context.Context, isReconnect bool) error
	// OnSpot, OnExecution, OnProtocolError have the Router handler types.
	// Session itself never invokes them; inbound events go to the handlers
	// passed to NewRouter.
	OnSpot           SpotHandler
	OnExecution      ExecutionHandler
	OnProtocolError  ErrorHandler
	// OnFatal fires once when the session gives up for good (max
	// reconnect attempts, or max_consecutive_auth_failures exceeded).
	OnFatal func(error)
}

// Config bundles the session's tunables.
type Config struct {
	Backoff               BackoffConfig
	HeartbeatInterval     time.Duration
	MaxConsecutiveAuthFail int
}

// DefaultConfig allows 3 consecutive auth failures before giving up.
var DefaultConfig = Config{
	Backoff:                DefaultBackoffConfig,
	HeartbeatInterval:      DefaultHeartbeatInterval,
	MaxConsecutiveAuthFail: 3,
}

// Session owns one logical broker connection across however many physical
// reconnects it takes: the Transport, the Router, the auth sequence, the
// heartbeat, and the reconnect backoff loop.
type Session struct {
	transport     Transport
	router        *Router
	authenticator *Authenticator
	backoff       *Backoff
	hooks         Hooks
	cfg           Config
	logger        *logrus.Entry

	stateMu sync.Mutex
	state   *model.ConnStateMachine

	credsMu sync.Mutex
	creds   model.Credentials

	subMu            sync.Mutex
	subscribedSymbols []int64
	includeTimestamp bool
	haveSubscribed   bool

	disconnectMu sync.Mutex
	disconnectCh chan struct{}
}

// New constructs a Session. The same transport is used for every attempt;
// each attempt calls its Connect, which dials a fresh connection.
func New(transport Transport, authenticator *Authenticator, router *Router, creds model.Credentials, cfg Config, hooks Hooks, logger *logrus.Entry) *Session {
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultConfig.Backoff
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig.HeartbeatInterval
	}
	if cfg.MaxConsecutiveAuthFail <= 0 {
		cfg.MaxConsecutiveAuthFail = DefaultConfig.MaxConsecutiveAuthFail
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Session{
		transport:     transport,
		router:        router,
		authenticator: authenticator,
		backoff:       NewBackoff(cfg.Backoff, logger),
		hooks:         hooks,
		cfg:           cfg,
		logger:        logger.WithField("subsystem", "session"),
		state:         model.NewConnStateMachine(),
		creds:         creds,
	}
}

// State returns the current connection state.
func (s *Session) State() model.ConnState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state.Current()
}

// SetSubscription records the symbol set + timestamp flag to subscribe to,
// used both for the first subscribe and every reconnect replay.
func (s *Session) SetSubscription(symbolIDs []int64, includeTimestamp bool) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribedSymbols = append([]int64(nil), symbolIDs...)
	s.includeTimestamp = includeTimestamp
	s.haveSubscribed = true
}

// Subscribe sends SubscribeSpotsReq for the recorded symbol set and awaits
// the ack within the bounded window.
func (s *Session) Subscribe(ctx context.Context, timeout time.Duration) error {
	s.subMu.Lock()
	req := wire.SubscribeSpotsReq{SymbolIDs: append([]int64(nil), s.subscribedSymbols...), IncludeTimestamp: s.includeTimestamp}
	s.subMu.Unlock()

	if err := s.router.Send(wire.Envelope{PayloadType: uint32(wire.PayloadSubscribeSpotsReq), Payload: req.Marshal()}); err != nil {
		return err
	}
	_, err := s.router.WaitFor(ctx, wire.PayloadSubscribeSpotsRes, timeout)
	return err
}

// Run drives the connect/auth/reconnect loop until ctx is cancelled or a
// fatal condition is reached. It blocks. Every failure -- transport or auth
// -- routes through StateReconnecting uniformly; Run decides there whether
// to sleep and retry or declare the session Failed.
func (s *Session) Run(ctx context.Context) {
	attempt := 0
	isReconnect := false

	for {
		if ctx.Err() != nil {
			s.transitionTo(model.StateDisconnected, "shutdown")
			return
		}

		if err := s.connectOnce(ctx, isReconnect); err != nil {
			attempt++
			if apperror.Is(err, apperror.KindAuthFailed) || apperror.Is(err, apperror.KindNotAuthenticated) {
				s.stateMu.Lock()
				failures := s.state.AuthFailureCount()
				s.stateMu.Unlock()
				if failures >= s.cfg.MaxConsecutiveAuthFail {
					s.transitionTo(model.StateFailed, "auth_failed_terminal")
					s.fatal(apperror.Wrap(apperror.KindAuthFailed, err, "max consecutive auth failures exceeded"))
					return
				}
			}

			if attempt > s.backoff.MaxRetries() {
				s.transitionTo(model.StateFailed, "max_attempts_exceeded")
				s.fatal(apperror.Wrap(apperror.KindTransport, err, "max reconnect attempts exceeded"))
				return
			}

			s.logger.WithError(err).WithField("attempt", attempt).Warn("connect attempt failed; backing off")
			delay := s.backoff.Next()

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			isReconnect = true
			continue
		}

		// Connected + authenticated + OnReady succeeded. Wait here until
		// the transport signals disconnect (handled via dispatch loop)
		// or ctx is cancelled.
		attempt = 0
		s.backoff.Reset()
		<-s.waitDisconnect(ctx)
		if ctx.Err() != nil {
			return
		}
		isReconnect = true
		s.transitionTo(model.StateReconnecting, "connection_lost")
	}
}

func (s *Session) waitDisconnect(ctx context.Context) <-chan struct{} {
	s.disconnectMu.Lock()
	defer s.disconnectMu.Unlock()
	return s.disconnectCh
}

func (s *Session) connectOnce(ctx context.Context, isReconnect bool) error {
	enterCondition := "connect"
	if isReconnect {
		enterCondition = "retry"
	}
	s.transitionTo(model.StateConnecting, enterCondition)

	s.disconnectMu.Lock()
	s.disconnectCh = make(chan struct{})
	s.disconnectMu.Unlock()

	var disconnectOnce sync.Once
	onDisconnect := func(err error) {
		disconnectOnce.Do(func() {
			s.logger.WithError(err).Info("transport disconnected")
			s.disconnectMu.Lock()
			close(s.disconnectCh)
			s.disconnectMu.Unlock()
		})
	}

	if err := s.transport.Connect(ctx, s.router.Dispatch, onDisconnect); err != nil {
		s.transitionTo(model.StateReconnecting, "connect_failed")
		return err
	}

	s.transitionTo(model.StateAuthenticating, "tls_established")

	s.credsMu.Lock()
	creds := s.creds
	s.credsMu.Unlock()

	newCreds, err := s.authenticator.Authenticate(ctx, creds)
	if err != nil {
		_ = s.transport.Close()
		s.transitionTo(model.StateReconnecting, "auth_failed_transient")
		return err
	}

	s.credsMu.Lock()
	s.creds = newCreds
	s.credsMu.Unlock()

	s.transitionTo(model.StateReady, "auth_sequence_complete")

	if s.hooks.OnReady != nil {
		if err := s.hooks.OnReady(ctx, isReconnect); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) transitionTo(to model.ConnState, condition string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if err := s.state.Transition(to, condition); err != nil {
		s.logger.WithError(err).Debug("state transition rejected")
	}
}

func (s *Session) fatal(err error) {
	if s.hooks.OnFatal != nil {
		s.hooks.OnFatal(err)
	}
}
