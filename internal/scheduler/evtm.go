package scheduler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// EvtmScheduler runs callbacks on an evtm.EventManager. Virtual time is kept
// by evtm in seconds since start.
type EvtmScheduler struct {
	mgr   *evtm.EventManager
	start time.Time

	mu        sync.Mutex
	counter   EventID
	pending   map[EventID]struct{}
	cancelled map[EventID]struct{}
	abort     error
	ctx       context.Context
	ran       uint64
}

type evtmCall struct {
	id EventID
	f  func()
}

// NewEvtm returns a Scheduler backed by a fresh evtm event manager.
func NewEvtm(start time.Time) *EvtmScheduler {
	return &EvtmScheduler{
		mgr:       evtm.New(),
		start:     start,
		pending:   make(map[EventID]struct{}),
		cancelled: make(map[EventID]struct{}),
	}
}

func (s *EvtmScheduler) Now() time.Time {
	secs := s.mgr.CurrentTime().Seconds()
	return s.start.Add(time.Duration(math.Round(secs * float64(time.Second))))
}

func (s *EvtmScheduler) Schedule(delay time.Duration, f func()) EventID {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	s.counter++
	id := s.counter
	s.pending[id] = struct{}{}
	s.mu.Unlock()

	s.mgr.Schedule(s, evtmCall{id: id, f: f}, dispatchEvtm, vrtime.SecondsToTime(delay.Seconds()))
	return id
}

func dispatchEvtm(_ *evtm.EventManager, owner any, data any) any {
	s := owner.(*EvtmScheduler)
	call := data.(evtmCall)

	s.mu.Lock()
	_, cancelled := s.cancelled[call.id]
	delete(s.cancelled, call.id)
	delete(s.pending, call.id)
	if s.abort == nil && s.ctx != nil && s.ctx.Err() != nil {
		s.abort = s.ctx.Err()
	}
	skip := cancelled || s.abort != nil
	s.mu.Unlock()

	if !skip && call.f != nil {
		call.f()
		s.mu.Lock()
		s.ran++
		s.mu.Unlock()
	}
	return nil
}

// Pending returns the number of events that have neither run nor been
// cancelled.
func (s *EvtmScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) - len(s.cancelled)
}

// Executed returns the number of callbacks run so far.
func (s *EvtmScheduler) Executed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ran
}

func (s *EvtmScheduler) Cancel(id EventID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; ok {
		s.cancelled[id] = struct{}{}
	}
}

func (s *EvtmScheduler) Abort(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abort == nil {
		s.abort = err
	}
}

// Run hands control to evtm until virtual time reaches until. Once aborted
// or once ctx is done, remaining events are drained without running their
// callbacks. A cancelled ctx is returned as is.
func (s *EvtmScheduler) Run(ctx context.Context, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.mgr.Run(until.Sub(s.start).Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = nil
	switch {
	case s.abort == nil:
		return nil
	case s.abort == ctx.Err():
		return s.abort
	default:
		return fmt.Errorf("%w: %w", ErrAborted, s.abort)
	}
}
