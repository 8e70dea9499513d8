// Package session implements the broker session: router/waiter
// correlation, the auth sequence, heartbeat, and reconnect-with-backoff.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/palmoil/agent/internal/apperror"
	"github.com/palmoil/agent/internal/wire"
)

// Sender is the minimal outbound capability the router needs from the
// transport.
type Sender interface {
	Send(wire.Envelope) error
}

// SpotHandler is invoked for every decoded SpotEvent.
type SpotHandler func(wire.SpotEvent)

// ExecutionHandler is invoked for every decoded ExecutionEvent.
type ExecutionHandler func(wire.ExecutionEvent)

// ErrorHandler is invoked for every decoded ErrorRes/OrderErrorEvent, in
// addition to (not instead of) failing any pending waiter.
type ErrorHandler func(code, description string)

// Router multiplexes inbound envelopes: a broadcast of spot/execution/error
// events, and a typed response-waiter registry for in-flight synchronous
// calls.
type Router struct {
	sender Sender
	logger *logrus.Entry

	mu      sync.Mutex
	waiters map[wire.PayloadType][]chan waitResult

	onSpot      SpotHandler
	onExecution ExecutionHandler
	onError     ErrorHandler
}

type waitResult struct {
	env wire.Envelope
	err error
}

// NewRouter constructs a Router. Handlers may be nil.
func NewRouter(sender Sender, logger *logrus.Entry, onSpot SpotHandler, onExecution ExecutionHandler, onError ErrorHandler) *Router {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Router{
		sender:      sender,
		logger:      logger.WithField("subsystem", "router"),
		waiters:     make(map[wire.PayloadType][]chan waitResult),
		onSpot:      onSpot,
		onExecution: onExecution,
		onError:     onError,
	}
}

// Send serialises env and writes it to the transport.
func (r *Router) Send(env wire.Envelope) error {
	return r.sender.Send(env)
}

// WaitFor registers a one-shot slot for the next inbound message of
// expected, and suspends until a matching message arrives, an error
// envelope fails it fast, or timeout elapses.
func (r *Router) WaitFor(ctx context.Context, expected wire.PayloadType, timeout time.Duration) (wire.Envelope, error) {
	ch := make(chan waitResult, 1)
	r.mu.Lock()
	r.waiters[expected] = append(r.waiters[expected], ch)
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.env, res.err
	case <-timer.C:
		r.removeWaiter(expected, ch)
		return wire.Envelope{}, apperror.New(apperror.KindTimeout, "waiting for response")
	case <-ctx.Done():
		r.removeWaiter(expected, ch)
		return wire.Envelope{}, apperror.Wrap(apperror.KindCancelled, ctx.Err(), "wait cancelled")
	}
}

func (r *Router) removeWaiter(t wire.PayloadType, ch chan waitResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.waiters[t]
	for i, c := range list {
		if c == ch {
			r.waiters[t] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Dispatch decodes env's payload type and routes it: completes any matching
// waiter, fails ALL pending waiters fast on a protocol-level error, and
// invokes the relevant broadcast handler.
func (r *Router) Dispatch(env wire.Envelope) {
	pt := wire.PayloadType(env.PayloadType)

	switch pt {
	case wire.PayloadErrorRes:
		errRes, err := wire.UnmarshalErrorRes(env.Payload)
		if err != nil {
			r.logger.WithError(err).Warn("malformed ErrorRes")
			return
		}
		r.failAllWaiters(apperror.NewAPIError(errRes.Code, errRes.Description))
		if r.onError != nil {
			r.onError(errRes.Code, errRes.Description)
		}
		return

	case wire.PayloadOrderErrorEvent:
		errEv, err := wire.UnmarshalOrderErrorEvent(env.Payload)
		if err != nil {
			r.logger.WithError(err).Warn("malformed OrderErrorEvent")
			return
		}
		r.failAllWaiters(apperror.NewAPIError(errEv.Code, errEv.Description))
		if r.onError != nil {
			r.onError(errEv.Code, errEv.Description)
		}
		return

	case wire.PayloadSpotEvent:
		spot, err := wire.UnmarshalSpotEvent(env.Payload)
		if err != nil {
			r.logger.WithError(err).Warn("malformed SpotEvent")
			return
		}
		r.completeWaiter(pt, env, nil)
		if r.onSpot != nil {
			r.onSpot(spot)
		}
		return

	case wire.PayloadExecutionEvent:
		ev, err := wire.UnmarshalExecutionEvent(env.Payload)
		if err != nil {
			r.logger.WithError(err).Warn("malformed ExecutionEvent")
			return
		}
		r.completeWaiter(pt, env, nil)
		if r.onExecution != nil {
			r.onExecution(ev)
		}
		return

	default:
		// Any other awaited response type (auth, symbol list/meta,
		// subscribe ack): just complete a matching waiter if one exists.
		r.completeWaiter(pt, env, nil)
	}
}

func (r *Router) completeWaiter(t wire.PayloadType, env wire.Envelope, err error) {
	r.mu.Lock()
	list := r.waiters[t]
	if len(list) == 0 {
		r.mu.Unlock()
		return
	}
	ch := list[0]
	r.waiters[t] = list[1:]
	r.mu.Unlock()

	ch <- waitResult{env: env, err: err}
}

// failAllWaiters completes every pending waiter (of any expected type) with
// err, since a protocol-level error is not scoped to one call.
func (r *Router) failAllWaiters(err error) {
	r.mu.Lock()
	all := r.waiters
	r.waiters = make(map[wire.PayloadType][]chan waitResult)
	r.mu.Unlock()

	for _, list := range all {
		for _, ch := range list {
			ch <- waitResult{err: err}
		}
	}
}

// CancelAll fails every pending waiter with KindCancelled; used on
// cooperative shutdown.
func (r *Router) CancelAll() {
	r.failAllWaiters(apperror.New(apperror.KindCancelled, "session shutting down"))
}
