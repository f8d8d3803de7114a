package tracker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/events"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/log"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/state"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/youtube"
)

// Notification is a parsed push from the hub.
type Notification struct {
	VideoID   string
	ChannelID string
	Title     string
	Link      string
}

// Outcome describes how a notification was handled.
type Outcome string

const (
	OutcomeResolveFailed  Outcome = "resolve_failed"
	OutcomePublished      Outcome = "published"
	OutcomeScheduled      Outcome = "scheduled"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeMalformed      Outcome = "malformed"
	OutcomeUnknownChannel Outcome = "unknown_channel"
)

// HandleNotification resolves the pushed resource and advances its lifecycle.
// Failures are logged and reported through the outcome; they are never
// returned, since the hub must always see success.
func (t *Tracker) HandleNotification(ctx context.Context, n Notification) Outcome {
	outcome := t.handleNotification(ctx, n)
	if t.recorder != nil {
		t.recorder.PushNotification(string(outcome))
	}
	log.Info("push notification handled",
		zap.String("channel_id", n.ChannelID),
		zap.String("video_id", n.VideoID),
		zap.String("outcome", string(outcome)),
	)
	return outcome
}

func (t *Tracker) handleNotification(ctx context.Context, n Notification) Outcome {
	r, err := t.resolve(ctx, n.VideoID)
	if err != nil {
		log.Warn("resolve failed, dropping notification",
			zap.String("video_id", n.VideoID),
			zap.Error(err),
		)
		return OutcomeResolveFailed
	}
	if n.Title != "" {
		r.Title = n.Title
	}
	if n.Link != "" {
		r.Link = n.Link
	}

	switch r.Kind {
	case youtube.KindVideo:
		return t.handleVideo(ctx, n.ChannelID, r)
	case youtube.KindBroadcast:
		return t.handleBroadcast(ctx, n.ChannelID, r)
	default:
		return OutcomeMalformed
	}
}

func (t *Tracker) handleVideo(ctx context.Context, channel string, r *youtube.Resource) Outcome {
	if !t.store.MarkAnnounced(r) {
		return OutcomeDuplicate
	}
	t.emit(ctx, events.TypePublished, channel, r)
	return OutcomePublished
}

func (t *Tracker) handleBroadcast(ctx context.Context, channel string, r *youtube.Resource) Outcome {
	if r.ActualStart != nil {
		// already live; the reconciliation tick decides whether to announce it
		return OutcomeIgnored
	}
	if r.ScheduledStart == nil {
		log.Warn("broadcast without scheduled start",
			zap.String("channel_id", channel),
			zap.String("video_id", r.ID),
		)
		return OutcomeMalformed
	}

	var stored *youtube.Resource
	result, err := t.store.Upsert(channel, r, func(s *youtube.Resource) {
		stored = s
		t.armReminder(channel, s)
	})
	switch {
	case errors.Is(err, state.ErrChannelNotTracked):
		return OutcomeUnknownChannel
	case err != nil:
		log.Error("cannot record broadcast",
			zap.String("channel_id", channel),
			zap.String("video_id", r.ID),
			zap.Error(err),
		)
		return OutcomeMalformed
	case result == state.Duplicate:
		return OutcomeDuplicate
	}
	log.Debug("broadcast recorded",
		zap.String("channel_id", channel),
		zap.String("video_id", r.ID),
		zap.Stringer("result", result),
	)

	t.emit(ctx, events.TypeBroadcastScheduled, channel, stored)
	return OutcomeScheduled
}
