// Package events defines the lifecycle notifications the tracker emits and
// the dispatcher that delivers them to the configured sinks.
package events

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/ids"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/log"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/youtube"
)

// Type is the lifecycle event type.
type Type string

const (
	TypePublished          Type = "video.published"
	TypeBroadcastScheduled Type = "broadcast.scheduled"
	TypeBroadcastReminder  Type = "broadcast.reminder"
	TypeBroadcastLive      Type = "broadcast.live"
)

// AllTypes lists every event type.
var AllTypes = []Type{TypePublished, TypeBroadcastScheduled, TypeBroadcastReminder, TypeBroadcastLive}

// IsBroadcast reports whether t describes a broadcast.
func (t Type) IsBroadcast() bool {
	return t != TypePublished
}

// OptionFlag returns the configuration flag that disables t.
func OptionFlag(t Type) string {
	switch t {
	case TypePublished:
		return "VIDEO_DISABLED"
	case TypeBroadcastScheduled:
		return "SCHEDULE_DISABLED"
	case TypeBroadcastReminder:
		return "REMINDER_DISABLED"
	case TypeBroadcastLive:
		return "LIVE_DISABLED"
	default:
		return ""
	}
}

// TimeLayout formats start times in payloads.
const TimeLayout = "2006-01-02 03:04PM (MST)"

var (
	// ErrMissingScheduledStart rejects broadcast events without a scheduled start.
	ErrMissingScheduledStart = errors.New("broadcast event requires a scheduled start time")
	// ErrMissingActualStart rejects live events without an actual start.
	ErrMissingActualStart = errors.New("live event requires an actual start time")
)

// Event is one lifecycle notification.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Subject   string         `json:"subject"`
	ChannelID string         `json:"channel_id"`
	VideoID   string         `json:"video_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// New builds an event for r. Broadcast types require a scheduled start; live
// additionally requires an actual start.
func New(t Type, subject, channel string, r *youtube.Resource) (*Event, error) {
	payload := map[string]any{
		"title":       r.Title,
		"description": r.Description,
		"images":      images(r.Thumbnail),
		"link":        r.Link,
	}
	if t.IsBroadcast() {
		if r.ScheduledStart == nil {
			return nil, ErrMissingScheduledStart
		}
		payload["scheduled_start_time"] = r.ScheduledStart.Format(TimeLayout)
	}
	if t == TypeBroadcastLive {
		if r.ActualStart == nil {
			return nil, ErrMissingActualStart
		}
		payload["actual_start_time"] = r.ActualStart.Format(TimeLayout)
	}

	return &Event{
		ID:        ids.NewEventID(),
		Type:      t,
		Subject:   subject,
		ChannelID: channel,
		VideoID:   r.ID,
		Timestamp: time.Now(),
		Payload:   payload,
	}, nil
}

func images(thumbnail string) []string {
	if thumbnail == "" {
		return []string{}
	}
	return []string{thumbnail}
}

// Emitter accepts lifecycle events.
type Emitter interface {
	Emit(ctx context.Context, e *Event)
}

// Sink delivers events to one downstream system.
type Sink interface {
	Name() string
	Publish(ctx context.Context, e *Event) error
}

// Options reports whether an event type is switched off.
type Options interface {
	Disabled(t Type) bool
}

// StaticOptions is an Options backed by a fixed set of disabled types.
type StaticOptions map[Type]bool

// Disabled implements Options.
func (o StaticOptions) Disabled(t Type) bool {
	return o[t]
}

// Recorder counts dispatch outcomes. metrics.Metrics implements it.
type Recorder interface {
	EventEmitted(t string)
	EventSuppressed(t string)
	EventDeliveryFailed(sink, t string)
}

// Dispatcher gates events through Options and fans them out to every sink.
type Dispatcher struct {
	sinks    []Sink
	options  Options
	recorder Recorder
}

// NewDispatcher creates a dispatcher. options and recorder may be nil.
func NewDispatcher(options Options, recorder Recorder, sinks ...Sink) *Dispatcher {
	if options == nil {
		options = StaticOptions{}
	}
	return &Dispatcher{sinks: sinks, options: options, recorder: recorder}
}

// Emit delivers e to every sink unless its type is disabled. Delivery
// failures are logged; they never reach the caller.
func (d *Dispatcher) Emit(ctx context.Context, e *Event) {
	if d.options.Disabled(e.Type) {
		log.Debug("event type disabled, not emitting",
			zap.String("event_type", string(e.Type)),
			zap.String("video_id", e.VideoID),
		)
		if d.recorder != nil {
			d.recorder.EventSuppressed(string(e.Type))
		}
		return
	}

	for _, sink := range d.sinks {
		if err := sink.Publish(ctx, e); err != nil {
			log.Error("event delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("event_id", e.ID),
				zap.String("event_type", string(e.Type)),
				zap.Error(err),
			)
			if d.recorder != nil {
				d.recorder.EventDeliveryFailed(sink.Name(), string(e.Type))
			}
		}
	}

	if d.recorder != nil {
		d.recorder.EventEmitted(string(e.Type))
	}
}

// LogSink writes events to the log. It is always enabled so every emitted
// event leaves a trace.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Publish(ctx context.Context, e *Event) error {
	log.Info("lifecycle event",
		zap.String("event_id", e.ID),
		zap.String("event_type", string(e.Type)),
		zap.String("subject", e.Subject),
		zap.String("channel_id", e.ChannelID),
		zap.String("video_id", e.VideoID),
	)
	return nil
}
