package reminder

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu    sync.Mutex
	fired []Key
}

func (r *recorder) fire(key Key, at time.Time) {
	r.mu.Lock()
	r.fired = append(r.fired, key)
	r.mu.Unlock()
}

func (r *recorder) keys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Key(nil), r.fired...)
}

func newTestScheduler() (*Scheduler, *fakeClock, *recorder) {
	clock := &fakeClock{now: time.Date(2026, 10, 20, 8, 0, 0, 0, time.UTC)}
	rec := &recorder{}
	return New(rec.fire, WithClock(clock.Now)), clock, rec
}

func TestArmReplacesExistingKey(t *testing.T) {
	s, clock, rec := newTestScheduler()
	key := Key{Channel: "UC1", ResourceID: "b1"}

	s.Arm(key, clock.Now().Add(time.Hour))
	s.Arm(key, clock.Now().Add(2*time.Hour))
	s.Arm(key, clock.Now().Add(30*time.Minute))

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after re-arming", s.Len())
	}
	at, ok := s.Deadline(key)
	if !ok || !at.Equal(clock.Now().Add(30*time.Minute)) {
		t.Errorf("Deadline() = %v, %v, want the last armed time", at, ok)
	}

	clock.Advance(3 * time.Hour)
	if n := s.FireDue(); n != 1 {
		t.Errorf("FireDue() = %d, want 1", n)
	}
	if got := rec.keys(); len(got) != 1 || got[0] != key {
		t.Errorf("fired = %v, want [%v]", got, key)
	}
}

func TestFireDueOrdersByDeadline(t *testing.T) {
	s, clock, rec := newTestScheduler()
	base := clock.Now()
	s.Arm(Key{"UC1", "c"}, base.Add(3*time.Minute))
	s.Arm(Key{"UC1", "a"}, base.Add(1*time.Minute))
	s.Arm(Key{"UC2", "b"}, base.Add(2*time.Minute))
	s.Arm(Key{"UC2", "later"}, base.Add(time.Hour))

	clock.Advance(5 * time.Minute)
	if n := s.FireDue(); n != 3 {
		t.Fatalf("FireDue() = %d, want 3", n)
	}
	got := rec.keys()
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if got[i].ResourceID != id {
			t.Errorf("fired[%d] = %v, want %v", i, got[i].ResourceID, id)
		}
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestCancel(t *testing.T) {
	s, clock, rec := newTestScheduler()
	key := Key{Channel: "UC1", ResourceID: "b1"}

	if s.Cancel(key) {
		t.Error("Cancel() of unknown key = true")
	}

	s.Arm(key, clock.Now().Add(time.Minute))
	if !s.Cancel(key) {
		t.Error("Cancel() of armed key = false")
	}
	if s.Cancel(key) {
		t.Error("second Cancel() = true")
	}

	clock.Advance(time.Hour)
	if n := s.FireDue(); n != 0 || len(rec.keys()) != 0 {
		t.Errorf("cancelled reminder fired")
	}
}

func TestArmMisfireGrace(t *testing.T) {
	s, clock, rec := newTestScheduler()
	key := Key{Channel: "UC1", ResourceID: "b1"}

	if !s.Arm(key, clock.Now().Add(-30*time.Second)) {
		t.Error("Arm() within grace = false")
	}
	if n := s.FireDue(); n != 1 {
		t.Errorf("FireDue() = %d, want 1 for a slightly late reminder", n)
	}

	s.Arm(key, clock.Now().Add(time.Hour))
	if s.Arm(key, clock.Now().Add(-2*time.Hour)) {
		t.Error("Arm() far in the past = true")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want previous reminder removed", s.Len())
	}
	if len(rec.keys()) != 1 {
		t.Errorf("fired = %v", rec.keys())
	}
}

func TestRunFiresOnRealClock(t *testing.T) {
	fired := make(chan Key, 1)
	s := New(func(key Key, at time.Time) { fired <- key })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	key := Key{Channel: "UC1", ResourceID: "b1"}
	s.Arm(key, time.Now().Add(20*time.Millisecond))

	select {
	case got := <-fired:
		if got != key {
			t.Errorf("fired %v, want %v", got, key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reminder did not fire")
	}
}
