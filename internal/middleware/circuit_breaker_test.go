package middleware

import (
	"testing"
	"time"
)

func TestCircuitOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(3, 1, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if cb.State() != CircuitClosed {
		t.Fatal("circuit should stay closed below threshold")
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatal("circuit should open at threshold")
	}
	if cb.Allow() {
		t.Error("open circuit should reject requests")
	}
}

func TestCircuitHalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(1, 1, 10*time.Millisecond)

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatal("circuit should be open")
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("circuit should allow a probe after timeout")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open, got %v", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Errorf("success in half-open should close the circuit, got %v", cb.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(1, 2, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.Allow() // transitions to half-open

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Errorf("failure in half-open should reopen, got %v", cb.State())
	}
}

func TestStateChangeCallback(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(1, 1, time.Minute)

	var from, to CircuitState
	cb.OnStateChange = func(f, t CircuitState) { from, to = f, t }

	cb.RecordFailure()
	if from != CircuitClosed || to != CircuitOpen {
		t.Errorf("expected closed->open callback, got %v->%v", from, to)
	}
}
