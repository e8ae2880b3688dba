package clock

import (
	"testing"
	"time"
)

func TestManualAdvance(t *testing.T) {
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)
	if !c.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, c.Now())
	}
	c.Advance(90 * time.Minute)
	want := start.Add(90 * time.Minute)
	if !c.Now().Equal(want) {
		t.Fatalf("expected %v after advance, got %v", want, c.Now())
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Fatalf("expected reset to %v, got %v", start, c.Now())
	}
}

func TestSimulatedRunsAhead(t *testing.T) {
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	c := NewSimulated(start, 3600)

	time.Sleep(20 * time.Millisecond)
	elapsed := c.Now().Sub(start)
	if elapsed < time.Minute {
		t.Fatalf("expected at least a simulated minute, got %v", elapsed)
	}
}

func TestSimulatedDefaultsAcceleration(t *testing.T) {
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	c := NewSimulated(start, 0)
	if c.Acceleration != 1 {
		t.Fatalf("expected acceleration 1, got %v", c.Acceleration)
	}
	if c.Now().Before(start) {
		t.Fatalf("simulated clock moved before its start")
	}
}
