package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/palmoil/agent/internal/apperror"
	"github.com/palmoil/agent/internal/model"
	"github.com/palmoil/agent/internal/secret"
	"github.com/palmoil/agent/internal/wire"
)

// respondFunc decides how to answer one outbound envelope: the response to
// dispatch back (if respond is true) after delay.
type respondFunc func(wire.Envelope) (resp wire.Envelope, delay time.Duration, respond bool)

// scriptedSender replays canned broker responses asynchronously, so
// WaitFor has already registered its waiter by the time Dispatch fires --
// mirroring a real network round trip rather than racing it.
type scriptedSender struct {
	router  *Router
	respond respondFunc

	mu   sync.Mutex
	sent []wire.Envelope
}

func (s *scriptedSender) Send(env wire.Envelope) error {
	s.mu.Lock()
	s.sent = append(s.sent, env)
	s.mu.Unlock()

	if s.respond == nil {
		return nil
	}
	resp, delay, ok := s.respond(env)
	if !ok {
		return nil
	}
	go func() {
		time.Sleep(delay)
		s.router.Dispatch(resp)
	}()
	return nil
}

func testCreds() model.Credentials {
	return model.Credentials{
		Environment:  model.EnvDemo,
		ClientID:     secret.New("client"),
		ClientSecret: secret.New("secret"),
		AccountID:    secret.New("acct"),
	}
}

func TestAuthenticateSucceedsOnAppAndAccountAuthAcks(t *testing.T) {
	var router *Router
	sender := &scriptedSender{}
	router = NewRouter(sender, nil, nil, nil, nil)
	sender.router = router
	sender.respond = func(env wire.Envelope) (wire.Envelope, time.Duration, bool) {
		switch wire.PayloadType(env.PayloadType) {
		case wire.PayloadApplicationAuthReq:
			return wire.Envelope{PayloadType: uint32(wire.PayloadApplicationAuthRes)}, time.Millisecond, true
		case wire.PayloadAccountAuthReq:
			return wire.Envelope{PayloadType: uint32(wire.PayloadAccountAuthRes)}, time.Millisecond, true
		}
		return wire.Envelope{}, 0, false
	}

	a := NewAuthenticator(router, nil, nil)
	_, err := a.Authenticate(context.Background(), testCreds())
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
}

func TestAuthenticateFailsFastOnAppAuthError(t *testing.T) {
	var router *Router
	sender := &scriptedSender{}
	router = NewRouter(sender, nil, nil, nil, nil)
	sender.router = router
	sender.respond = func(env wire.Envelope) (wire.Envelope, time.Duration, bool) {
		if wire.PayloadType(env.PayloadType) == wire.PayloadApplicationAuthReq {
			errRes := wire.ErrorRes{Code: "INVALID_CLIENT", Description: "bad client secret"}
			return wire.Envelope{PayloadType: uint32(wire.PayloadErrorRes), Payload: errRes.Marshal()}, time.Millisecond, true
		}
		return wire.Envelope{}, 0, false
	}

	a := NewAuthenticator(router, nil, nil)
	begin := time.Now()
	_, err := a.Authenticate(context.Background(), testCreds())
	elapsed := time.Since(begin)

	if !apperror.Is(err, apperror.KindAuthFailed) {
		t.Fatalf("err = %v, want KindAuthFailed", err)
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("Authenticate took %v to fail, want <200ms", elapsed)
	}
}

func TestAuthenticateAcceptsAlreadyLoggedInAsSuccess(t *testing.T) {
	var router *Router
	sender := &scriptedSender{}
	router = NewRouter(sender, nil, nil, nil, nil)
	sender.router = router
	sender.respond = func(env wire.Envelope) (wire.Envelope, time.Duration, bool) {
		switch wire.PayloadType(env.PayloadType) {
		case wire.PayloadApplicationAuthReq:
			return wire.Envelope{PayloadType: uint32(wire.PayloadApplicationAuthRes)}, time.Millisecond, true
		case wire.PayloadAccountAuthReq:
			errRes := wire.ErrorRes{Code: wire.CodeAlreadyLoggedIn, Description: "already logged in"}
			return wire.Envelope{PayloadType: uint32(wire.PayloadErrorRes), Payload: errRes.Marshal()}, time.Millisecond, true
		}
		return wire.Envelope{}, 0, false
	}

	a := NewAuthenticator(router, nil, nil)
	_, err := a.Authenticate(context.Background(), testCreds())
	if err != nil {
		t.Fatalf("Authenticate() error = %v, want nil (ALREADY_LOGGED_IN accepted as success)", err)
	}
}

func TestAuthenticateMapsNotAuthenticatedCodeToTransientKind(t *testing.T) {
	var router *Router
	sender := &scriptedSender{}
	router = NewRouter(sender, nil, nil, nil, nil)
	sender.router = router
	sender.respond = func(env wire.Envelope) (wire.Envelope, time.Duration, bool) {
		switch wire.PayloadType(env.PayloadType) {
		case wire.PayloadApplicationAuthReq:
			return wire.Envelope{PayloadType: uint32(wire.PayloadApplicationAuthRes)}, time.Millisecond, true
		case wire.PayloadAccountAuthReq:
			errRes := wire.ErrorRes{Code: wire.CodeClientNotAuthenticated, Description: "not authenticated"}
			return wire.Envelope{PayloadType: uint32(wire.PayloadErrorRes), Payload: errRes.Marshal()}, time.Millisecond, true
		}
		return wire.Envelope{}, 0, false
	}

	a := NewAuthenticator(router, nil, nil)
	_, err := a.Authenticate(context.Background(), testCreds())
	if !apperror.Is(err, apperror.KindNotAuthenticated) {
		t.Fatalf("err = %v, want KindNotAuthenticated", err)
	}
}

func TestAuthenticateTimesOutWhenBrokerNeverResponds(t *testing.T) {
	sender := &scriptedSender{}
	router := NewRouter(sender, nil, nil, nil, nil)
	sender.router = router

	a := NewAuthenticator(router, nil, nil)
	a.timeout = 20 * time.Millisecond
	_, err := a.Authenticate(context.Background(), testCreds())
	if !apperror.Is(err, apperror.KindTimeout) {
		t.Fatalf("err = %v, want KindTimeout", err)
	}
}
