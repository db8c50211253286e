package redis

import (
	"errors"
	"testing"
	"time"
)

var errFail = errors.New("fail")

// fakeClock drives the breaker's reset timeout without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(max int) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(max, 10*time.Second)
	cb.now = clk.now
	return cb, clk
}

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Execute(func() error { return errFail })
	}
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(3)
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3)
	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errFail }); !errors.Is(err, errFail) {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %v", cb.CurrentState())
	}

	called := false
	if err := cb.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(3)
	trip(cb, 2)
	cb.Execute(func() error { return nil })
	if cb.Failures() != 0 {
		t.Fatalf("expected failures reset, got %d", cb.Failures())
	}
	trip(cb, 2)
	if cb.CurrentState() != StateClosed {
		t.Errorf("non-consecutive failures should not open, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clk := newTestBreaker(2)
	var transitions []string
	cb.OnStateChange = func(from, to State) { transitions = append(transitions, from.String()+">"+to.String()) }

	trip(cb, 2)
	clk.advance(11 * time.Second)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial call: expected nil, got %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed after successful trial call, got %v", cb.CurrentState())
	}

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions: got %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: got %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(2)
	trip(cb, 2)
	clk.advance(11 * time.Second)

	cb.Execute(func() error { return errFail })
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected open after failed trial call, got %v", cb.CurrentState())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected rejection right after failed trial call, got %v", err)
	}
}

func TestCircuitBreaker_SingleTrialCall(t *testing.T) {
	cb, clk := newTestBreaker(1)
	trip(cb, 1)
	clk.advance(11 * time.Second)

	err := cb.Execute(func() error {
		// A concurrent caller during the trial call is rejected.
		if inner := cb.Execute(func() error { return nil }); !errors.Is(inner, ErrCircuitOpen) {
			t.Errorf("expected second caller rejected during trial call, got %v", inner)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
