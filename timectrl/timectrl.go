package timectrl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time. Mobility models and
// the event scheduler depend on this abstraction rather than on a concrete
// clock so tests can substitute a fixed time.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// ErrClockBackwards is returned when a caller tries to move virtual time
// into the past.
var ErrClockBackwards = errors.New("timectrl: virtual time cannot move backwards")

// VirtualClock is a monotonic simulation clock advanced explicitly by the
// event scheduler. It implements SimClock.
type VirtualClock struct {
	mu    sync.RWMutex
	start time.Time
	now   time.Time
}

// NewVirtualClock returns a clock positioned at start.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{start: start, now: start}
}

// Now returns the current simulation time. Implements SimClock.
func (c *VirtualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Start returns the time the clock was created at.
func (c *VirtualClock) Start() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.start
}

// Elapsed returns the virtual time elapsed since Start.
func (c *VirtualClock) Elapsed() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now.Sub(c.start)
}

// Set moves the clock to t.
func (c *VirtualClock) Set(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.now) {
		return fmt.Errorf("%w: %s < %s", ErrClockBackwards, t.Format(time.RFC3339Nano), c.now.Format(time.RFC3339Nano))
	}
	c.now = t
	return nil
}

// Advance moves the clock forward by d.
func (c *VirtualClock) Advance(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: advance by %s", ErrClockBackwards, d)
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// Mode describes how virtual time relates to wall-clock time while running.
type Mode int

const (
	// Accelerated runs events as quickly as they can be processed.
	Accelerated Mode = iota
	// RealTime holds virtual time back so it never outruns the wall clock
	// (scaled by Pacer.Speed).
	RealTime
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	default:
		return "accelerated"
	}
}

// Pacer throttles a simulation run against the wall clock.
type Pacer struct {
	Mode  Mode
	Speed float64 // virtual seconds per wall second; <= 0 means 1

	once      sync.Once
	wallStart time.Time
	simStart  time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer returns a pacer for the given mode.
func NewPacer(mode Mode, speed float64) *Pacer {
	return &Pacer{Mode: mode, Speed: speed}
}

// Wait blocks until the wall clock has caught up with simNow. It returns
// immediately in Accelerated mode or when ctx is cancelled.
func (p *Pacer) Wait(ctx context.Context, simNow time.Time) error {
	if p == nil || p.Mode != RealTime {
		return nil
	}
	nowFn := p.now
	if nowFn == nil {
		nowFn = time.Now
	}
	p.once.Do(func() {
		p.wallStart = nowFn()
		p.simStart = simNow
	})

	speed := p.Speed
	if speed <= 0 {
		speed = 1
	}
	due := p.wallStart.Add(time.Duration(float64(simNow.Sub(p.simStart)) / speed))
	wait := due.Sub(nowFn())
	if wait <= 0 {
		return nil
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return sleep(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
