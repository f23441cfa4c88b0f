package replica

import (
	"testing"
	"time"
)

func TestPhysicalClockAppliesOffset(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &PhysicalClock{wall: func() time.Time { return fixed }}

	if got := p.Now(); !got.Equal(fixed) {
		t.Fatalf("expected zero offset to leave wall clock unchanged, got %v", got)
	}

	p.SetOffset(5 * time.Second)
	want := fixed.Add(5 * time.Second)
	if got := p.Now(); !got.Equal(want) {
		t.Fatalf("expected offset applied, want %v got %v", want, got)
	}

	if got := p.Offset(); got != 5*time.Second {
		t.Fatalf("expected Offset() to report 5s, got %v", got)
	}
}

func TestNewPhysicalClockUsesRealWallClock(t *testing.T) {
	p := NewPhysicalClock()
	before := time.Now()
	got := p.Now()
	after := time.Now()
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected Now() to fall between %v and %v, got %v", before, after, got)
	}
}
