package resilience

import (
	"testing"
	"time"
)

func TestBreakerOpensOnFailureRatio(t *testing.T) {
	b := NewBreaker(4, 0.5, time.Minute)
	b.Report(true)
	b.Report(false)
	b.Report(false)
	b.Report(false)
	if b.CurrentState() != Open {
		t.Fatalf("expected open, got %s", b.CurrentState())
	}
	if b.Allow() {
		t.Fatal("expected open breaker to refuse requests")
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewBreaker(1, 0.5, 10*time.Millisecond)
	now := time.Now()
	b.now = func() time.Time { return now }
	b.Report(false)
	if b.CurrentState() != Open {
		t.Fatalf("expected open, got %s", b.CurrentState())
	}

	now = now.Add(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected half-open probe to be allowed")
	}
	if b.CurrentState() != HalfOpen {
		t.Fatalf("expected half-open, got %s", b.CurrentState())
	}
	b.Report(true)
	if b.CurrentState() != Closed {
		t.Fatalf("expected closed after successful probe, got %s", b.CurrentState())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, 0.5, 10*time.Millisecond)
	now := time.Now()
	b.now = func() time.Time { return now }
	b.Report(false)
	now = now.Add(time.Second)
	if !b.Allow() {
		t.Fatal("expected probe to be allowed")
	}
	b.Report(false)
	if b.CurrentState() != Open {
		t.Fatalf("expected reopened breaker, got %s", b.CurrentState())
	}
}
