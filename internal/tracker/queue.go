package tracker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/log"
)

// OutcomeDropped is recorded for notifications the queue could not accept.
const OutcomeDropped Outcome = "dropped"

// Queue hands push notifications to a fixed pool of workers, so the hub's
// request is answered before the resource is resolved.
type Queue struct {
	tracker *Tracker
	ch      chan Notification

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue starts workers that run HandleNotification for every submitted
// notification. size bounds how many notifications may wait.
func (t *Tracker) NewQueue(workers, size int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tracker: t,
		ch:      make(chan Notification, size),
		ctx:     ctx,
		cancel:  cancel,
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.work()
	}
	return q
}

func (q *Queue) work() {
	defer q.wg.Done()
	for n := range q.ch {
		q.tracker.HandleNotification(q.ctx, n)
	}
}

// Submit enqueues n without blocking. It returns false when the queue is
// full or closed; the notification is then dropped.
func (q *Queue) Submit(n Notification) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.drop(n, "queue closed")
		return false
	}
	select {
	case q.ch <- n:
		return true
	default:
		q.drop(n, "queue full")
		return false
	}
}

func (q *Queue) drop(n Notification, reason string) {
	if q.tracker.recorder != nil {
		q.tracker.recorder.PushNotification(string(OutcomeDropped))
	}
	log.Warn("dropping push notification",
		zap.String("channel_id", n.ChannelID),
		zap.String("video_id", n.VideoID),
		zap.String("reason", reason),
	)
}

// Close stops accepting notifications and waits for the queued ones to be
// handled. When ctx ends first, in-flight work is cancelled and ctx.Err() is
// returned once the workers exit.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
