package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/palmoil/agent/internal/apperror"
	"github.com/palmoil/agent/internal/wire"
)

// nopSender discards every Send call; these tests only exercise Dispatch and
// WaitFor, never the wire.
type nopSender struct{}

func (nopSender) Send(wire.Envelope) error { return nil }

func TestRouterDispatchFailsAllPendingWaitersFastOnErrorRes(t *testing.T) {
	r := NewRouter(nopSender{}, nil, nil, nil, nil)

	const waiterCount = 5
	results := make(chan error, waiterCount)
	var start sync.WaitGroup
	start.Add(waiterCount)

	expectedTypes := []wire.PayloadType{
		wire.PayloadApplicationAuthRes,
		wire.PayloadAccountAuthRes,
		wire.PayloadSymbolsListRes,
		wire.PayloadSubscribeSpotsRes,
		wire.PayloadReconcileRes,
	}
	for _, pt := range expectedTypes {
		pt := pt
		go func() {
			start.Done()
			start.Wait()
			// A generous timeout: if failAllWaiters didn't work, this test
			// would hang for the full duration instead of fast-failing.
			_, err := r.WaitFor(context.Background(), pt, 5*time.Second)
			results <- err
		}()
	}

	// Give the waiters a moment to register before the error arrives.
	start.Wait()
	time.Sleep(10 * time.Millisecond)

	begin := time.Now()
	errRes := wire.ErrorRes{Code: "INVALID_CLIENT", Description: "bad credentials"}
	r.Dispatch(wire.Envelope{PayloadType: uint32(wire.PayloadErrorRes), Payload: errRes.Marshal()})

	for i := 0; i < waiterCount; i++ {
		select {
		case err := <-results:
			if elapsed := time.Since(begin); elapsed > 200*time.Millisecond {
				t.Errorf("waiter %d took %v to fail, want <200ms", i, elapsed)
			}
			if !apperror.Is(err, apperror.KindAPIError) {
				t.Errorf("waiter %d error = %v, want KindAPIError", i, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("waiter %d never completed", i)
		}
	}
}

func TestRouterDispatchFailsAllPendingWaitersFastOnOrderErrorEvent(t *testing.T) {
	r := NewRouter(nopSender{}, nil, nil, nil, nil)

	ch := make(chan error, 1)
	go func() {
		_, err := r.WaitFor(context.Background(), wire.PayloadSubscribeSpotsRes, 5*time.Second)
		ch <- err
	}()
	time.Sleep(10 * time.Millisecond)

	begin := time.Now()
	// OrderErrorEvent shares ErrorRes's (code, description) wire layout;
	// ErrorRes.Marshal produces an identical payload and has no
	// unmarshal-only sibling to call from outside the wire package.
	errEv := wire.ErrorRes{Code: "VALIDATION_ERROR", Description: "bad order"}
	r.Dispatch(wire.Envelope{PayloadType: uint32(wire.PayloadOrderErrorEvent), Payload: errEv.Marshal()})

	select {
	case err := <-ch:
		if elapsed := time.Since(begin); elapsed > 200*time.Millisecond {
			t.Errorf("waiter took %v to fail, want <200ms", elapsed)
		}
		if !apperror.Is(err, apperror.KindAPIError) {
			t.Errorf("error = %v, want KindAPIError", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never completed")
	}
}

func TestRouterWaitForTimesOutWhenNoResponseArrives(t *testing.T) {
	r := NewRouter(nopSender{}, nil, nil, nil, nil)

	_, err := r.WaitFor(context.Background(), wire.PayloadApplicationAuthRes, 20*time.Millisecond)
	if !apperror.Is(err, apperror.KindTimeout) {
		t.Errorf("err = %v, want KindTimeout", err)
	}
}

func TestRouterCompletesMatchingWaiterOnly(t *testing.T) {
	r := NewRouter(nopSender{}, nil, nil, nil, nil)

	ch := make(chan wire.Envelope, 1)
	go func() {
		env, _ := r.WaitFor(context.Background(), wire.PayloadSubscribeSpotsRes, time.Second)
		ch <- env
	}()
	time.Sleep(10 * time.Millisecond)

	// An unrelated payload type must not satisfy the waiter above.
	r.Dispatch(wire.Envelope{PayloadType: uint32(wire.PayloadApplicationAuthRes)})

	select {
	case <-ch:
		t.Fatal("waiter completed on the wrong payload type")
	case <-time.After(50 * time.Millisecond):
	}

	r.Dispatch(wire.Envelope{PayloadType: uint32(wire.PayloadSubscribeSpotsRes)})
	select {
	case env := <-ch:
		if env.PayloadType != uint32(wire.PayloadSubscribeSpotsRes) {
			t.Errorf("PayloadType = %d, want %d", env.PayloadType, wire.PayloadSubscribeSpotsRes)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never completed after matching dispatch")
	}
}
