package tracker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/events"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/log"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/reminder"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/state"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/youtube"
)

// ErrTickInProgress is returned when a tick is requested while another runs.
var ErrTickInProgress = errors.New("reconciliation already in progress")

// ReconcileResult summarizes one tick. Evicted counts every removed entry,
// including the Live and Failed ones.
type ReconcileResult struct {
	Checked  int           `json:"checked"`
	Retained int           `json:"retained"`
	Live     int           `json:"live"`
	Evicted  int           `json:"evicted"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration_ns"`
}

type decision int

const (
	decisionRetain decision = iota
	decisionLive
	decisionExpire
	decisionMalformed
)

// decide applies the lifecycle policy to a freshly resolved broadcast.
func (t *Tracker) decide(r *youtube.Resource, now time.Time) decision {
	if r.ScheduledStart == nil {
		return decisionMalformed
	}
	sched := *r.ScheduledStart
	if r.IsPending() {
		// pending until the broadcast window after the scheduled start lapses
		if now.Before(sched.Add(t.cfg.LiveWindow)) {
			return decisionRetain
		}
		return decisionExpire
	}
	if r.ActualStart == nil {
		// no longer a broadcast
		return decisionExpire
	}
	if now.Before(sched.Add(-t.cfg.PreRoll)) {
		// started early; announce once the pre-roll point is reached
		return decisionRetain
	}
	if now.Sub(*r.ActualStart) < t.cfg.LiveWindow {
		return decisionLive
	}
	return decisionExpire
}

// Tick re-resolves every tracked broadcast and advances or evicts it. Ticks
// never overlap; a concurrent call returns ErrTickInProgress.
func (t *Tracker) Tick(ctx context.Context) (ReconcileResult, error) {
	if !t.tickMu.TryLock() {
		return ReconcileResult{}, ErrTickInProgress
	}
	defer t.tickMu.Unlock()

	started := time.Now()
	entries := t.store.Flatten()
	result := ReconcileResult{Checked: len(entries)}

	fresh := make([]*youtube.Resource, len(entries))
	errs := make([]error, len(entries))

	var g errgroup.Group
	g.SetLimit(t.cfg.Concurrency)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			fresh[i], errs[i] = t.resolve(ctx, e.Resource.ID)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		// results gathered during shutdown are not trustworthy
		return result, err
	}

	now := t.cfg.Now()
	var batch state.Batch
	live := make(map[reminder.Key]bool)
	for i, e := range entries {
		if errs[i] != nil {
			result.Failed++
			log.Info("evicting unresolvable broadcast",
				zap.String("channel_id", e.Channel),
				zap.String("video_id", e.Resource.ID),
				zap.Error(errs[i]),
			)
			batch.Evictions = append(batch.Evictions, e)
			continue
		}

		next := state.Entry{Channel: e.Channel, Resource: fresh[i]}
		switch t.decide(fresh[i], now) {
		case decisionRetain:
			batch.Updates = append(batch.Updates, next)
		case decisionLive:
			batch.Evictions = append(batch.Evictions, next)
			live[reminderKey(e.Channel, e.Resource.ID)] = true
		case decisionMalformed:
			log.Warn("evicting broadcast without scheduled start",
				zap.String("channel_id", e.Channel),
				zap.String("video_id", e.Resource.ID),
			)
			batch.Evictions = append(batch.Evictions, next)
		default:
			batch.Evictions = append(batch.Evictions, next)
		}
	}

	retained := 0
	removed := t.store.Apply(batch, state.ApplyHooks{
		OnUpdate: func(channel string, old, updated *youtube.Resource) {
			retained++
			switch {
			case !updated.IsPending():
				t.reminders.Cancel(reminderKey(channel, updated.ID))
			case !sameInstant(old.ScheduledStart, updated.ScheduledStart):
				t.armReminder(channel, updated)
			}
		},
		OnEvict: func(e state.Entry) {
			t.reminders.Cancel(reminderKey(e.Channel, e.Resource.ID))
		},
	})
	result.Retained = retained
	result.Evicted = len(removed)

	for _, e := range removed {
		if !live[reminderKey(e.Channel, e.Resource.ID)] {
			continue
		}
		result.Live++
		t.emit(ctx, events.TypeBroadcastLive, e.Channel, e.Resource)
	}

	result.Duration = time.Since(started)
	if t.recorder != nil {
		t.recorder.ObserveReconcile(result.Duration)
	}
	log.Debug("reconciliation finished",
		zap.Int("checked", result.Checked),
		zap.Int("retained", result.Retained),
		zap.Int("live", result.Live),
		zap.Int("evicted", result.Evicted),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// RunPeriodic ticks every interval until ctx is cancelled.
func (t *Tracker) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.Tick(ctx); err != nil && ctx.Err() == nil {
				log.Warn("reconciliation skipped", zap.Error(err))
			}
		}
	}
}
