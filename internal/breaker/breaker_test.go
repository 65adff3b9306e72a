package breaker

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestBreaker(t *testing.T) *Breaker {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "breaker.toml"))
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := newTestBreaker(t)
	now := time.Now()

	for i := 0; i < b.Threshold-1; i++ {
		if err := b.RecordFailure(now); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	tripped, err := b.Check(now)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if tripped {
		t.Fatalf("breaker should not be tripped before reaching its threshold")
	}

	if err := b.RecordFailure(now); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	tripped, err = b.Check(now)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !tripped {
		t.Fatalf("breaker should be tripped at its threshold")
	}
}

func TestBreakerAutoResetsAfterCooldown(t *testing.T) {
	b := newTestBreaker(t)
	now := time.Now()

	for i := 0; i < b.Threshold; i++ {
		if err := b.RecordFailure(now); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if tripped, _ := b.Check(now); !tripped {
		t.Fatalf("expected breaker to be tripped")
	}

	later := now.Add(b.Cooldown + time.Minute)
	tripped, err := b.Check(later)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if tripped {
		t.Fatalf("expected breaker to auto-reset once the cooldown elapses")
	}

	s, err := b.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if s.ConsecutiveFailures != 0 {
		t.Errorf("expected consecutive failures cleared after auto-reset, got %d", s.ConsecutiveFailures)
	}
}

func TestBreakerRecordSuccessResetsImmediately(t *testing.T) {
	b := newTestBreaker(t)
	now := time.Now()

	for i := 0; i < b.Threshold; i++ {
		_ = b.RecordFailure(now)
	}
	if tripped, _ := b.Check(now); !tripped {
		t.Fatalf("expected breaker to be tripped")
	}

	if err := b.RecordSuccess(); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	tripped, err := b.Check(now)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if tripped {
		t.Fatalf("a success should clear the breaker without waiting for cooldown")
	}
}

func TestBreakerTripForcesOpen(t *testing.T) {
	b := newTestBreaker(t)
	now := time.Now()

	if err := b.Trip(now); err != nil {
		t.Fatalf("Trip: %v", err)
	}
	tripped, err := b.Check(now)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !tripped {
		t.Fatalf("Trip should force the breaker open regardless of prior failure count")
	}
}

func TestBreakerResetClearsTrip(t *testing.T) {
	b := newTestBreaker(t)
	now := time.Now()

	if err := b.Trip(now); err != nil {
		t.Fatalf("Trip: %v", err)
	}
	if err := b.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	s, err := b.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if s.Tripped {
		t.Errorf("Reset should clear the tripped flag")
	}
}

func TestBreakerStatusOnFreshState(t *testing.T) {
	b := newTestBreaker(t)
	s, err := b.Status()
	if err != nil {
		t.Fatalf("Status on a never-written state file: %v", err)
	}
	if s.Tripped || s.ConsecutiveFailures != 0 {
		t.Errorf("expected zero-value state before any failure is recorded, got %+v", s)
	}
}
