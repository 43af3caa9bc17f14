// Package timers schedules one-shot and repeating callbacks on the event
// loop.
package timers

import (
	"container/heap"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tsarna/deepstream/pkg/deepstream/eventloop"
	"go.uber.org/zap"
)

// ID identifies a scheduled timer. The zero ID never refers to a timer, so
// it can be used as "no timer".
type ID uint64

const minInterval = time.Millisecond

// Scheduler runs timer callbacks on an event loop.
//
// All methods except Advance must be called from the loop. With a real
// clock a single clock timer wakes the loop for the earliest deadline. With
// a *clock.Mock no clock timers are armed at all: time only moves when the
// test calls Advance, which fires due callbacks in deadline order.
type Scheduler struct {
	clock  clock.Clock
	loop   *eventloop.Loop
	logger *zap.Logger
	manual bool

	entries entryHeap
	byID    map[ID]*entry
	lastID  ID
	seq     uint64

	wake   *clock.Timer
	wakeAt time.Time
}

type entry struct {
	id       ID
	deadline time.Time
	interval time.Duration
	fn       func()
	seq      uint64
	index    int
}

// NewScheduler creates a Scheduler. A nil clock means the wall clock.
func NewScheduler(clk clock.Clock, loop *eventloop.Loop, logger *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	_, manual := clk.(*clock.Mock)
	return &Scheduler{
		clock:  clk,
		loop:   loop,
		logger: logger,
		manual: manual,
		byID:   make(map[ID]*entry),
	}
}

// Now returns the scheduler's current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// SetTimeout runs fn once after d.
func (s *Scheduler) SetTimeout(fn func(), d time.Duration) ID {
	return s.add(fn, d, 0)
}

// SetInterval runs fn every d until cleared.
func (s *Scheduler) SetInterval(fn func(), d time.Duration) ID {
	if d < minInterval {
		d = minInterval
	}
	return s.add(fn, d, d)
}

// Clear cancels a timer. Clearing the zero ID, a fired one-shot timer or an
// already cleared timer is a no-op.
func (s *Scheduler) Clear(id ID) {
	e, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	if e.index >= 0 {
		heap.Remove(&s.entries, e.index)
	}
	s.rearm()
}

// Len returns the number of pending timers.
func (s *Scheduler) Len() int {
	return len(s.byID)
}

func (s *Scheduler) add(fn func(), d, interval time.Duration) ID {
	if d < 0 {
		d = 0
	}
	s.lastID++
	s.seq++
	e := &entry{
		id:       s.lastID,
		deadline: s.clock.Now().Add(d),
		interval: interval,
		fn:       fn,
		seq:      s.seq,
	}
	s.byID[e.id] = e
	heap.Push(&s.entries, e)
	s.rearm()
	return e.id
}

// runDue fires every timer whose deadline has passed, earliest first.
func (s *Scheduler) runDue() {
	now := s.clock.Now()
	for len(s.entries) > 0 {
		e := s.entries[0]
		if e.deadline.After(now) {
			break
		}
		heap.Pop(&s.entries)
		if e.interval > 0 {
			e.deadline = e.deadline.Add(e.interval)
			if !e.deadline.After(now) {
				e.deadline = now.Add(e.interval)
			}
			s.seq++
			e.seq = s.seq
			heap.Push(&s.entries, e)
		} else {
			delete(s.byID, e.id)
		}
		s.call(e)
	}
	s.rearm()
}

func (s *Scheduler) call(e *entry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in timer callback", zap.Uint64("timer", uint64(e.id)), zap.Any("panic", r))
		}
	}()
	e.fn()
}

func (s *Scheduler) rearm() {
	if s.manual {
		return
	}
	if len(s.entries) == 0 {
		if s.wake != nil {
			s.wake.Stop()
			s.wake = nil
		}
		return
	}
	next := s.entries[0].deadline
	if s.wake != nil && s.wakeAt.Equal(next) {
		return
	}
	if s.wake != nil {
		s.wake.Stop()
	}
	s.wakeAt = next
	s.wake = s.clock.AfterFunc(next.Sub(s.clock.Now()), func() {
		s.loop.Post(s.runDue)
	})
}

// Advance moves a mock clock forward by d, firing due timers in deadline
// order and draining the loop after each one so that work they post runs
// before the next timer. It must be called from the goroutine that drives
// the loop, never from inside a loop callback.
func (s *Scheduler) Advance(d time.Duration) {
	mock, ok := s.clock.(*clock.Mock)
	if !ok {
		panic("timers: Advance requires a *clock.Mock")
	}
	target := mock.Now().Add(d)
	for {
		s.loop.Drain()
		if len(s.entries) == 0 || s.entries[0].deadline.After(target) {
			break
		}
		if next := s.entries[0].deadline; next.After(mock.Now()) {
			mock.Set(next)
		}
		s.runDue()
	}
	if target.After(mock.Now()) {
		mock.Set(target)
	}
	s.loop.Drain()
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
