package timectrl

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestVirtualClockSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewVirtualClock(start)

	newNow := start.Add(42 * time.Second)
	if err := c.Set(newNow); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := c.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
	if got := c.Elapsed(); got != 42*time.Second {
		t.Fatalf("Elapsed() = %v, want 42s", got)
	}
}

func TestVirtualClockRejectsBackwards(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewVirtualClock(start)
	if err := c.Advance(time.Second); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := c.Set(start); !errors.Is(err, ErrClockBackwards) {
		t.Fatalf("Set into the past err = %v, want ErrClockBackwards", err)
	}
	if err := c.Advance(-time.Millisecond); !errors.Is(err, ErrClockBackwards) {
		t.Fatalf("negative Advance err = %v, want ErrClockBackwards", err)
	}
	if got := c.Now(); !got.Equal(start.Add(time.Second)) {
		t.Fatalf("clock moved on rejected update: %v", got)
	}
}

func TestPacerRealTimeSleepsUntilDue(t *testing.T) {
	wall := time.Date(2030, time.June, 1, 12, 0, 0, 0, time.UTC)
	sim := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	var slept []time.Duration
	p := NewPacer(RealTime, 2)
	p.now = func() time.Time { return wall }
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	if err := p.Wait(context.Background(), sim); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	if err := p.Wait(context.Background(), sim.Add(4*time.Second)); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Fatalf("slept %v, want a single 2s sleep at speed 2", slept)
	}
}

func TestPacerAcceleratedNeverSleeps(t *testing.T) {
	p := NewPacer(Accelerated, 1)
	p.sleep = func(context.Context, time.Duration) error {
		t.Fatalf("accelerated pacer should not sleep")
		return nil
	}
	if err := p.Wait(context.Background(), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	var nilPacer *Pacer
	if err := nilPacer.Wait(context.Background(), time.Now()); err != nil {
		t.Fatalf("nil pacer Wait: %v", err)
	}
}
