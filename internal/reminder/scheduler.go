// Package reminder fires one-shot callbacks at broadcast start times.
//
// Pending reminders live in a min-heap ordered by deadline and indexed by
// Key, so arming, re-arming and cancelling a key are O(log n) and there is
// never more than one pending reminder per key. A single goroutine (Run)
// sleeps until the earliest deadline.
package reminder

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Key identifies a reminder.
type Key struct {
	Channel    string
	ResourceID string
}

// FireFunc is called once per due key, outside the scheduler lock.
type FireFunc func(key Key, at time.Time)

type item struct {
	key   Key
	at    time.Time
	index int
}

// deadlineHeap implements heap.Interface, ordered by deadline (earliest first).
type deadlineHeap []*item

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Scheduler holds pending reminders.
type Scheduler struct {
	mu      sync.Mutex
	items   deadlineHeap
	byKey   map[Key]*item
	fire    FireFunc
	grace   time.Duration
	now     func() time.Time
	wake    chan struct{}
	running bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithMisfireGrace sets how late a deadline may be and still fire.
func WithMisfireGrace(d time.Duration) Option {
	return func(s *Scheduler) { s.grace = d }
}

// New creates a scheduler calling fire for every due reminder.
func New(fire FireFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		byKey: make(map[Key]*item),
		fire:  fire,
		grace: time.Minute,
		now:   time.Now,
		wake:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	heap.Init(&s.items)
	return s
}

// Arm schedules key to fire at at, replacing any pending reminder for key.
// A deadline further in the past than the misfire grace is not armed and
// Arm returns false; the previous reminder for key is still removed.
func (s *Scheduler) Arm(key Key, at time.Time) bool {
	s.mu.Lock()
	s.removeLocked(key)
	if at.Before(s.now().Add(-s.grace)) {
		s.mu.Unlock()
		return false
	}
	it := &item{key: key, at: at}
	heap.Push(&s.items, it)
	s.byKey[key] = it
	s.mu.Unlock()

	s.notify()
	return true
}

// Cancel removes the pending reminder for key. Cancelling an unknown key is a
// no-op that returns false.
func (s *Scheduler) Cancel(key Key) bool {
	s.mu.Lock()
	removed := s.removeLocked(key)
	s.mu.Unlock()
	if removed {
		s.notify()
	}
	return removed
}

func (s *Scheduler) removeLocked(key Key) bool {
	it, ok := s.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&s.items, it.index)
	delete(s.byKey, key)
	return true
}

// Deadline returns when key is due to fire.
func (s *Scheduler) Deadline(key Key) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.byKey[key]
	if !ok {
		return time.Time{}, false
	}
	return it.at, true
}

// Len returns the number of pending reminders.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// FireDue fires every reminder whose deadline is not after now and returns
// how many fired. Run calls it; tests may call it directly.
func (s *Scheduler) FireDue() int {
	now := s.now()
	var due []*item

	s.mu.Lock()
	for len(s.items) > 0 && !s.items[0].at.After(now) {
		it := heap.Pop(&s.items).(*item)
		delete(s.byKey, it.key)
		due = append(due, it)
	}
	s.mu.Unlock()

	for _, it := range due {
		s.fire(it.key, it.at)
	}
	return len(due)
}

// next returns the time until the earliest deadline, or false when empty.
func (s *Scheduler) next() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return 0, false
	}
	return s.items[0].at.Sub(s.now()), true
}

// Run fires reminders until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.FireDue()

		wait, ok := s.next()
		if !ok {
			wait = time.Hour
		}
		if wait < 0 {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}
