package filter

import (
	"testing"
	"time"
)

func TestTrustConvergesToZero(t *testing.T) {
	s := NewTrustStore()
	var trust float64
	for i := 0; i < 20; i++ {
		trust = s.Update("sig", 95, ClassFlood)
		if trust < 0 || trust > 1 {
			t.Fatalf("trust %v out of range", trust)
		}
	}
	if trust != 0 {
		t.Errorf("trust after repeated floods = %v, want 0", trust)
	}
}

func TestTrustRecovery(t *testing.T) {
	clock := newFakeClock()
	s := NewTrustStore()
	s.now = clock.Now

	if got := s.Update("sig", 65, ClassLegit); !approx(got, 0.62) {
		t.Fatalf("suspicious update = %v, want 0.62", got)
	}
	if got := s.Update("sig", 0, ClassLegit); !approx(got, 0.63) {
		t.Fatalf("recovering update = %v, want 0.63", got)
	}

	clock.Advance(20 * time.Second)
	// base +0.01 and the idle bonus capped at three steps.
	if got := s.Update("sig", 0, ClassLegit); !approx(got, 0.67) {
		t.Errorf("idle recovery = %v, want 0.67", got)
	}

	clock.Advance(20 * time.Second)
	if got := s.Update("sig", 10, ClassBot); !approx(got, 0.59) {
		t.Errorf("bot update after idle = %v, want 0.59 (no idle bonus)", got)
	}

	for i := 0; i < 100; i++ {
		clock.Advance(time.Minute)
		s.Update("sig", 0, ClassLegit)
	}
	if got, ok := s.Get("sig"); !ok || got != 1 {
		t.Errorf("trust after long recovery = %v, want 1", got)
	}
}

func TestTrustSweep(t *testing.T) {
	clock := newFakeClock()
	s := NewTrustStore()
	s.now = clock.Now

	s.Update("old", 0, ClassLegit)
	clock.Advance(2 * time.Hour)
	s.Update("new", 0, ClassLegit)

	if n := s.Sweep(time.Hour); n != 1 || s.Len() != 1 {
		t.Errorf("Sweep removed %d, %d left; want 1, 1", n, s.Len())
	}
	if got, ok := s.Get("old"); ok || got != DefaultTrust {
		t.Errorf("evicted signature = %v, %v; want %v, false", got, ok, DefaultTrust)
	}
	if s.Len() != 1 {
		t.Error("Get must not create records")
	}
}
