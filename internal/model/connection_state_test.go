package model

import "testing"

func TestConnStateMachineReadyRequiresFullAuthSequence(t *testing.T) {
	m := NewConnStateMachine()

	if err := m.Transition(StateReady, "auth_sequence_complete"); err == nil {
		t.Fatal("expected error transitioning directly from Disconnected to Ready")
	}

	mustTransition(t, m, StateConnecting, "connect")
	mustTransition(t, m, StateAuthenticating, "tls_established")

	if err := m.Transition(StateReady, "some_partial_condition"); err == nil {
		t.Fatal("expected error for unknown condition")
	}

	mustTransition(t, m, StateReady, "auth_sequence_complete")
	if m.Current() != StateReady {
		t.Fatalf("Current() = %v, want Ready", m.Current())
	}
}

func TestConnStateMachineAuthFailureCounting(t *testing.T) {
	m := NewConnStateMachine()
	mustTransition(t, m, StateConnecting, "connect")
	mustTransition(t, m, StateAuthenticating, "tls_established")
	mustTransition(t, m, StateReconnecting, "auth_failed_transient")

	if got := m.AuthFailureCount(); got != 1 {
		t.Fatalf("AuthFailureCount() = %d, want 1", got)
	}

	mustTransition(t, m, StateConnecting, "retry")
	mustTransition(t, m, StateAuthenticating, "tls_established")
	mustTransition(t, m, StateReady, "auth_sequence_complete")

	if got := m.AuthFailureCount(); got != 0 {
		t.Fatalf("AuthFailureCount() after Ready = %d, want 0 (reset)", got)
	}
}

func mustTransition(t *testing.T, m *ConnStateMachine, to ConnState, cond string) {
	t.Helper()
	if err := m.Transition(to, cond); err != nil {
		t.Fatalf("Transition(%v, %q) failed: %v", to, cond, err)
	}
}
