// Package tracker drives the video and broadcast lifecycle: it handles push
// notifications, fires reminders, reconciles tracked broadcasts and restores
// state after a restart.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/events"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/log"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/reminder"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/state"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/youtube"
)

// SubjectLookup maps a channel to the subject its events are addressed to.
// registry.Registry implements it.
type SubjectLookup interface {
	Subject(channel string) (string, bool)
}

// Recorder counts tracker activity. metrics.Metrics implements it.
type Recorder interface {
	PushNotification(outcome string)
	Resolve(result string)
	ObserveReconcile(d time.Duration)
}

// Config holds the lifecycle windows and fan-out limits.
type Config struct {
	// PreRoll is how long before the scheduled start a broadcast may report
	// going live.
	PreRoll time.Duration
	// LiveWindow bounds how long after going live (or after the scheduled
	// start, for broadcasts that never went live) an entry stays relevant.
	LiveWindow   time.Duration
	MisfireGrace time.Duration
	Concurrency  int
	Now          func() time.Time
}

// DefaultConfig returns the standard windows: 10m pre-roll, 3h live window.
func DefaultConfig() Config {
	return Config{
		PreRoll:      10 * time.Minute,
		LiveWindow:   3 * time.Hour,
		MisfireGrace: time.Minute,
		Concurrency:  8,
		Now:          time.Now,
	}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithSubjects sets the subject lookup. Without it events use the channel id.
func WithSubjects(s SubjectLookup) Option {
	return func(t *Tracker) { t.subjects = s }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(t *Tracker) { t.recorder = r }
}

// Tracker owns the lifecycle decisions. All shared state lives in the store.
type Tracker struct {
	store     *state.Store
	resolver  youtube.Resolver
	emitter   events.Emitter
	reminders *reminder.Scheduler
	subjects  SubjectLookup
	recorder  Recorder
	cfg       Config

	tickMu sync.Mutex
}

// New creates a tracker and its reminder scheduler.
func New(store *state.Store, resolver youtube.Resolver, emitter events.Emitter, cfg Config, opts ...Option) *Tracker {
	def := DefaultConfig()
	if cfg.PreRoll <= 0 {
		cfg.PreRoll = def.PreRoll
	}
	if cfg.LiveWindow <= 0 {
		cfg.LiveWindow = def.LiveWindow
	}
	if cfg.MisfireGrace <= 0 {
		cfg.MisfireGrace = def.MisfireGrace
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}

	t := &Tracker{
		store:    store,
		resolver: resolver,
		emitter:  emitter,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.reminders = reminder.New(t.fireReminder,
		reminder.WithClock(cfg.Now),
		reminder.WithMisfireGrace(cfg.MisfireGrace),
	)
	return t
}

// Reminders returns the scheduler arming broadcast reminders. Its Run loop
// must be started by the caller.
func (t *Tracker) Reminders() *reminder.Scheduler {
	return t.reminders
}

// Store returns the state store.
func (t *Tracker) Store() *state.Store {
	return t.store
}

func (t *Tracker) subject(channel string) string {
	if t.subjects != nil {
		if s, ok := t.subjects.Subject(channel); ok {
			return s
		}
	}
	return channel
}

func (t *Tracker) emit(ctx context.Context, typ events.Type, channel string, r *youtube.Resource) {
	e, err := events.New(typ, t.subject(channel), channel, r)
	if err != nil {
		log.Warn("cannot build event",
			zap.String("event_type", string(typ)),
			zap.String("channel_id", channel),
			zap.String("video_id", r.ID),
			zap.Error(err),
		)
		return
	}
	t.emitter.Emit(ctx, e)
}

// resolve wraps the resolver with result accounting.
func (t *Tracker) resolve(ctx context.Context, id string) (*youtube.Resource, error) {
	r, err := t.resolver.Resolve(ctx, id)
	if t.recorder != nil {
		t.recorder.Resolve(resolveResult(err))
	}
	return r, err
}

func resolveResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, youtube.ErrNotFound):
		return "not_found"
	case errors.Is(err, youtube.ErrMalformed):
		return "malformed"
	default:
		return "transient"
	}
}

func reminderKey(channel, id string) reminder.Key {
	return reminder.Key{Channel: channel, ResourceID: id}
}

// armReminder schedules the reminder for a pending broadcast. Called under
// the store lock.
func (t *Tracker) armReminder(channel string, r *youtube.Resource) {
	if !r.IsPending() || r.ScheduledStart == nil {
		return
	}
	if !t.reminders.Arm(reminderKey(channel, r.ID), *r.ScheduledStart) {
		log.Debug("reminder deadline already passed",
			zap.String("channel_id", channel),
			zap.String("video_id", r.ID),
			zap.Time("scheduled_start", *r.ScheduledStart),
		)
	}
}

// fireReminder emits a reminder from the broadcast's current stored state.
func (t *Tracker) fireReminder(key reminder.Key, at time.Time) {
	r, ok := t.store.Lookup(key.Channel, key.ResourceID)
	if !ok {
		log.Debug("reminder for untracked broadcast",
			zap.String("channel_id", key.Channel),
			zap.String("video_id", key.ResourceID),
		)
		return
	}
	t.emit(context.Background(), events.TypeBroadcastReminder, key.Channel, r)
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
