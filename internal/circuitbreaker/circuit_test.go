package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func TestAllowClosedByDefault(t *testing.T) {
	c := New("test")
	if !c.Allow() {
		t.Fatalf("expected fresh circuit to allow calls")
	}
	if c.Snapshot().State != Closed {
		t.Fatalf("expected CLOSED, got %s", c.Snapshot().State)
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	c := New("test", WithFailureThreshold(3))
	for i := 0; i < 3; i++ {
		c.RecordFailure(errors.New("boom"))
	}
	if c.Allow() {
		t.Fatalf("expected circuit to be OPEN and disallow calls")
	}
	if got := c.Snapshot().State; got != Open {
		t.Fatalf("expected OPEN, got %s", got)
	}
}

func TestHalfOpenAfterRecoveryTimeout(t *testing.T) {
	c := New("test", WithFailureThreshold(1), WithRecoveryTimeout(10*time.Millisecond))
	c.RecordFailure(errors.New("boom"))
	if c.Allow() {
		t.Fatalf("expected OPEN to disallow before recovery timeout")
	}
	time.Sleep(15 * time.Millisecond)
	if !c.Allow() {
		t.Fatalf("expected recovery timeout to allow one trial call")
	}
	if got := c.Snapshot().State; got != HalfOpen {
		t.Fatalf("expected HALF_OPEN, got %s", got)
	}
}

func TestHalfOpenClosesOnSuccessThreshold(t *testing.T) {
	c := New("test", WithFailureThreshold(1), WithRecoveryTimeout(time.Millisecond), WithSuccessThreshold(2))
	c.RecordFailure(errors.New("boom"))
	time.Sleep(2 * time.Millisecond)
	c.Allow() // trigger HALF_OPEN transition
	c.RecordSuccess()
	if got := c.Snapshot().State; got != HalfOpen {
		t.Fatalf("expected still HALF_OPEN after one success of two, got %s", got)
	}
	c.RecordSuccess()
	if got := c.Snapshot().State; got != Closed {
		t.Fatalf("expected CLOSED after success threshold reached, got %s", got)
	}
}

func TestHalfOpenReopensOnFailure(t *testing.T) {
	c := New("test", WithFailureThreshold(1), WithRecoveryTimeout(time.Millisecond))
	c.RecordFailure(errors.New("boom"))
	time.Sleep(2 * time.Millisecond)
	c.Allow()
	c.RecordFailure(errors.New("boom again"))
	if got := c.Snapshot().State; got != Open {
		t.Fatalf("expected OPEN after half-open failure, got %s", got)
	}
}

func TestRegistrySharesCircuitByName(t *testing.T) {
	ResetAllCircuits()
	a := GetCircuit("shared")
	b := GetCircuit("shared")
	if a != b {
		t.Fatalf("expected the same circuit instance for the same name")
	}
}
