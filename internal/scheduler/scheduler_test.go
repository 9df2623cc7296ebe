package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/isl-simulator/timectrl"
)

var t0 = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestEventSchedulerRunsInTimeOrder(t *testing.T) {
	clock := timectrl.NewVirtualClock(t0)
	s := New(clock)

	var order []string
	var seen []time.Duration
	record := func(name string) func() {
		return func() {
			order = append(order, name)
			seen = append(seen, s.Now().Sub(t0))
		}
	}
	s.Schedule(3*time.Second, record("c"))
	s.Schedule(1*time.Second, record("a"))
	s.Schedule(2*time.Second, record("b"))

	if err := s.Run(context.Background(), t0.Add(10*time.Second)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(order); got != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order = %v, want [a b c]", order)
	}
	if seen[0] != time.Second || seen[2] != 3*time.Second {
		t.Fatalf("callback times = %v", seen)
	}
	if got := clock.Now(); !got.Equal(t0.Add(10 * time.Second)) {
		t.Fatalf("clock after Run = %v, want until", got)
	}
	if s.Executed() != 3 {
		t.Fatalf("Executed() = %d, want 3", s.Executed())
	}
}

func TestEventSchedulerTiesAreFIFO(t *testing.T) {
	s := New(timectrl.NewVirtualClock(t0))
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		s.Schedule(time.Second, func() { order = append(order, i) })
	}
	if err := s.Run(context.Background(), t0.Add(time.Second)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("tie order = %v, want scheduling order", order)
		}
	}
}

func TestEventSchedulerCallbackCanReschedule(t *testing.T) {
	s := New(timectrl.NewVirtualClock(t0))
	count := 0
	var tick func()
	tick = func() {
		count++
		s.Schedule(100*time.Millisecond, tick)
	}
	s.Schedule(0, tick)

	if err := s.Run(context.Background(), t0.Add(time.Second)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 11 {
		t.Fatalf("ticks = %d, want 11 (t=0..1s every 100ms)", count)
	}
	if s.Pending() != 1 {
		t.Fatalf("Pending() = %d, want the next tick", s.Pending())
	}
}

func TestEventSchedulerCancel(t *testing.T) {
	s := New(timectrl.NewVirtualClock(t0))
	ran := false
	id := s.Schedule(time.Second, func() { ran = true })
	s.Cancel(id)
	s.Cancel(id) // unknown now; no-op

	if err := s.Run(context.Background(), t0.Add(2*time.Second)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ran {
		t.Fatalf("cancelled event ran")
	}
}

func TestEventSchedulerAbortStopsRun(t *testing.T) {
	s := New(timectrl.NewVirtualClock(t0))
	fatal := errors.New("double transmission")
	later := false
	s.Schedule(time.Second, func() { s.Abort(fatal) })
	s.Schedule(2*time.Second, func() { later = true })

	err := s.Run(context.Background(), t0.Add(time.Minute))
	if !errors.Is(err, ErrAborted) || !errors.Is(err, fatal) {
		t.Fatalf("Run err = %v, want ErrAborted wrapping the fatal error", err)
	}
	if later {
		t.Fatalf("event after abort ran")
	}
}

func TestEventSchedulerHonoursContext(t *testing.T) {
	s := New(timectrl.NewVirtualClock(t0))
	ctx, cancel := context.WithCancel(context.Background())
	s.Schedule(time.Second, cancel)
	ran := false
	s.Schedule(2*time.Second, func() { ran = true })

	if err := s.Run(ctx, t0.Add(time.Minute)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
	if ran {
		t.Fatalf("event ran after context cancellation")
	}
}

func TestFakeSchedulerAdvance(t *testing.T) {
	s := NewFakeScheduler(t0)
	var got []string
	s.Schedule(2*time.Second, func() { got = append(got, "b") })
	s.Schedule(time.Second, func() {
		got = append(got, "a")
		s.Schedule(500*time.Millisecond, func() { got = append(got, "a2") })
	})

	times := s.PendingTimes()
	if len(times) != 2 || !times[0].Equal(t0.Add(time.Second)) {
		t.Fatalf("PendingTimes() = %v", times)
	}

	s.AdvanceTo(t0.Add(1600 * time.Millisecond))
	if len(got) != 2 || got[0] != "a" || got[1] != "a2" {
		t.Fatalf("after AdvanceTo got %v, want [a a2]", got)
	}
	if !s.Now().Equal(t0.Add(1600 * time.Millisecond)) {
		t.Fatalf("Now() = %v", s.Now())
	}
	if !s.RunNext() || got[2] != "b" {
		t.Fatalf("RunNext did not run b: %v", got)
	}
	if s.RunNext() {
		t.Fatalf("RunNext reported an event on an empty queue")
	}
}

func TestEvtmSchedulerRunsInTimeOrder(t *testing.T) {
	s := NewEvtm(t0)
	var order []string
	var at []time.Duration
	add := func(name string) func() {
		return func() {
			order = append(order, name)
			at = append(at, s.Now().Sub(t0))
		}
	}
	s.Schedule(2*time.Second, add("b"))
	s.Schedule(time.Second, add("a"))
	dropped := s.Schedule(1500*time.Millisecond, add("x"))
	s.Cancel(dropped)
	if got := s.Pending(); got != 2 {
		t.Fatalf("Pending() = %d before run, want 2", got)
	}

	if err := s.Run(context.Background(), t0.Add(5*time.Second)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v, want [a b]", order)
	}
	if s.Executed() != 2 || s.Pending() != 0 {
		t.Fatalf("Executed() = %d, Pending() = %d after run", s.Executed(), s.Pending())
	}
	if at[0] != time.Second || at[1] != 2*time.Second {
		t.Fatalf("callback times = %v", at)
	}
}

func TestEvtmSchedulerHonoursContext(t *testing.T) {
	s := NewEvtm(t0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Schedule(time.Second, cancel)
	ran := false
	s.Schedule(2*time.Second, func() { ran = true })

	err := s.Run(ctx, t0.Add(time.Minute))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAborted) {
		t.Fatalf("cancellation reported as abort: %v", err)
	}
	if ran {
		t.Fatalf("event ran after context cancellation")
	}
	if s.Executed() != 1 || s.Pending() != 0 {
		t.Fatalf("Executed() = %d, Pending() = %d", s.Executed(), s.Pending())
	}
}

func TestEvtmSchedulerAbortStopsRun(t *testing.T) {
	s := NewEvtm(t0)
	fatal := errors.New("double transmission")
	later := false
	s.Schedule(time.Second, func() { s.Abort(fatal) })
	s.Schedule(2*time.Second, func() { later = true })

	err := s.Run(context.Background(), t0.Add(time.Minute))
	if !errors.Is(err, ErrAborted) || !errors.Is(err, fatal) {
		t.Fatalf("Run err = %v, want ErrAborted wrapping the fatal error", err)
	}
	if later {
		t.Fatalf("event after abort ran")
	}
}
