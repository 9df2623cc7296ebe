package scheduler

import (
	"sort"
	"sync"
	"time"
)

// FakeScheduler is a test-only Scheduler that only runs events when the test
// says so. Tests inspect what is pending, then call RunNext or AdvanceTo to
// execute due events deterministically.
type FakeScheduler struct {
	mu      sync.Mutex
	now     time.Time
	counter EventID

	// Events ordered by 'when' (earliest first), FIFO among equal times.
	events []*scheduledEvent
	index  map[EventID]*scheduledEvent
	abort  error
}

// NewFakeScheduler creates a fake scheduler starting at the given time.
func NewFakeScheduler(start time.Time) *FakeScheduler {
	return &FakeScheduler{
		now:   start,
		index: make(map[EventID]*scheduledEvent),
	}
}

// Now returns the current fake simulation time.
func (s *FakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Schedule registers a callback to run after delay.
func (s *FakeScheduler) Schedule(delay time.Duration, f func()) EventID {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	ev := &scheduledEvent{id: s.counter, when: s.now.Add(delay), f: f}
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(ev.when)
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
	s.index[ev.id] = ev
	return ev.id
}

// Cancel attempts to cancel a previously scheduled event.
func (s *FakeScheduler) Cancel(id EventID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.index[id]; ok {
		ev.cancelled = true
		delete(s.index, id)
	}
}

// Abort records the first fatal error.
func (s *FakeScheduler) Abort(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abort == nil {
		s.abort = err
	}
}

// Err returns the error passed to Abort, if any.
func (s *FakeScheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abort
}

// Pending returns the number of live events.
func (s *FakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// PendingTimes returns the due times of live events in execution order.
func (s *FakeScheduler) PendingTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, 0, len(s.index))
	for _, ev := range s.events {
		if !ev.cancelled {
			out = append(out, ev.when)
		}
	}
	return out
}

func (s *FakeScheduler) popLocked(limit time.Time, bounded bool) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if bounded && ev.when.After(limit) {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		if ev.when.After(s.now) {
			s.now = ev.when
		}
		return ev
	}
	return nil
}

// RunNext moves time to the earliest pending event and runs it. It returns
// false when nothing is pending.
func (s *FakeScheduler) RunNext() bool {
	s.mu.Lock()
	ev := s.popLocked(time.Time{}, false)
	s.mu.Unlock()
	if ev == nil {
		return false
	}
	if ev.f != nil {
		ev.f()
	}
	return true
}

// AdvanceTo runs every event due at or before t, including ones scheduled by
// those callbacks, then leaves the clock at t.
func (s *FakeScheduler) AdvanceTo(t time.Time) {
	for {
		s.mu.Lock()
		ev := s.popLocked(t, true)
		if ev == nil {
			if t.After(s.now) {
				s.now = t
			}
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		if ev.f != nil {
			ev.f()
		}
	}
}
