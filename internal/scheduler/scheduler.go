// Package scheduler runs simulation callbacks in virtual time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/isl-simulator/internal/logging"
	"github.com/signalsfoundry/isl-simulator/timectrl"
)

// EventID identifies a scheduled callback.
type EventID uint64

// Scheduler schedules callbacks to run at virtual time Now()+delay. Callbacks
// run one at a time; a callback may schedule further events.
type Scheduler interface {
	// Now returns the current simulation time.
	Now() time.Time

	// Schedule registers f to run after delay. Negative delays are treated
	// as zero.
	Schedule(delay time.Duration, f func()) EventID

	// Cancel drops a pending event. It is a no-op if the ID is unknown or
	// the event already ran.
	Cancel(id EventID)

	// Abort stops the run after the current callback. Run returns err.
	Abort(err error)
}

// ErrAborted wraps the error passed to Abort when a run is stopped.
var ErrAborted = errors.New("scheduler: run aborted")

type scheduledEvent struct {
	id        EventID
	when      time.Time
	f         func()
	cancelled bool
}

// EventScheduler is an ordered-slice discrete-event scheduler over a
// VirtualClock. Events with equal times run in the order they were
// scheduled.
type EventScheduler struct {
	clock *timectrl.VirtualClock
	pacer *timectrl.Pacer
	log   logging.Logger

	mu      sync.Mutex
	counter EventID
	events  []*scheduledEvent // ordered by 'when' (earliest first)
	index   map[EventID]*scheduledEvent
	abort   error
	ran     uint64
}

// Option configures an EventScheduler.
type Option func(*EventScheduler)

// WithPacer throttles Run against the wall clock.
func WithPacer(p *timectrl.Pacer) Option { return func(s *EventScheduler) { s.pacer = p } }

// WithLogger sets the scheduler logger.
func WithLogger(l logging.Logger) Option { return func(s *EventScheduler) { s.log = logging.OrNoop(l) } }

// New creates a scheduler driving clock.
func New(clock *timectrl.VirtualClock, opts ...Option) *EventScheduler {
	s := &EventScheduler{
		clock: clock,
		log:   logging.Noop(),
		index: make(map[EventID]*scheduledEvent),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the current simulation time from the underlying clock.
func (s *EventScheduler) Now() time.Time {
	return s.clock.Now()
}

// Schedule registers a callback to run after delay.
func (s *EventScheduler) Schedule(delay time.Duration, f func()) EventID {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	ev := &scheduledEvent{
		id:   s.counter,
		when: s.clock.Now().Add(delay),
		f:    f,
	}
	s.addEventLocked(ev)
	s.index[ev.id] = ev
	return ev.id
}

// addEventLocked inserts an event after every event due at or before it.
// Caller must hold s.mu lock.
func (s *EventScheduler) addEventLocked(ev *scheduledEvent) {
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(ev.when)
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
}

// Cancel attempts to cancel a previously scheduled event.
func (s *EventScheduler) Cancel(id EventID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, id)
	// Removal from s.events is lazy; Run skips cancelled events.
}

// Abort records the first fatal error; Run stops after the current callback.
func (s *EventScheduler) Abort(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abort == nil {
		s.abort = err
	}
}

// Pending returns the number of events still queued.
func (s *EventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Executed returns the number of callbacks run so far.
func (s *EventScheduler) Executed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ran
}

// popDueLocked removes and returns the earliest live event due at or before
// limit, or nil. Caller must hold s.mu lock.
func (s *EventScheduler) popDueLocked(limit time.Time) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(limit) {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		return ev
	}
	return nil
}

// Run executes events in time order until none remain at or before until,
// then leaves the clock at until. It stops early when ctx is cancelled or a
// callback calls Abort.
func (s *EventScheduler) Run(ctx context.Context, until time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		if s.abort != nil {
			err := s.abort
			s.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrAborted, err)
		}
		ev := s.popDueLocked(until)
		s.mu.Unlock()

		if ev == nil {
			break
		}
		if err := s.pacer.Wait(ctx, ev.when); err != nil {
			return err
		}
		if err := s.clock.Set(ev.when); err != nil {
			return err
		}

		// Execute callback OUTSIDE the lock so it can schedule more events.
		if ev.f != nil {
			ev.f()
		}
		s.mu.Lock()
		s.ran++
		s.mu.Unlock()
	}

	s.mu.Lock()
	aborted := s.abort
	s.mu.Unlock()
	if aborted != nil {
		return fmt.Errorf("%w: %w", ErrAborted, aborted)
	}
	if until.After(s.clock.Now()) {
		return s.clock.Set(until)
	}
	return nil
}
