package tracker

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/log"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/state"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/youtube"
)

// RestoreResult summarizes a restore.
type RestoreResult struct {
	Restored int
	Dropped  int
	Skipped  int
	Ledger   int
}

// Restore loads a snapshot into the store. Channels must already be active;
// broadcasts of inactive channels are skipped. Every restored broadcast is
// re-resolved: unknown or malformed ones are dropped, transient failures keep
// the stored state. Pending broadcasts get their reminders re-armed. The
// ledger is restored verbatim.
func (t *Tracker) Restore(ctx context.Context, snap state.Snapshot) RestoreResult {
	var result RestoreResult

	var entries []state.Entry
	for ch, resources := range snap.Channels {
		if !t.store.HasChannel(ch) {
			log.Warn("skipping snapshot of inactive channel",
				zap.String("channel_id", ch),
				zap.Int("broadcasts", len(resources)),
			)
			result.Skipped += len(resources)
			continue
		}
		for _, r := range resources {
			entries = append(entries, state.Entry{Channel: ch, Resource: r})
		}
	}

	resolved := make([]*youtube.Resource, len(entries))
	var g errgroup.Group
	g.SetLimit(t.cfg.Concurrency)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			resolved[i] = t.refresh(ctx, e)
			return nil
		})
	}
	_ = g.Wait()

	for i, e := range entries {
		r := resolved[i]
		if r == nil {
			result.Dropped++
			continue
		}
		_, err := t.store.Upsert(e.Channel, r, func(stored *youtube.Resource) {
			t.armReminder(e.Channel, stored)
		})
		if err != nil {
			log.Warn("cannot restore broadcast",
				zap.String("channel_id", e.Channel),
				zap.String("video_id", r.ID),
				zap.Error(err),
			)
			result.Dropped++
			continue
		}
		result.Restored++
	}

	t.store.RestoreLedger(snap.Ledger)
	result.Ledger = len(snap.Ledger)

	log.Info("state restored",
		zap.Int("restored", result.Restored),
		zap.Int("dropped", result.Dropped),
		zap.Int("skipped", result.Skipped),
		zap.Int("ledger", result.Ledger),
	)
	return result
}

// refresh re-resolves a restored broadcast. It returns nil when the entry
// should be dropped.
func (t *Tracker) refresh(ctx context.Context, e state.Entry) *youtube.Resource {
	fresh, err := t.resolve(ctx, e.Resource.ID)
	switch {
	case err == nil:
		if fresh.Kind != youtube.KindBroadcast || fresh.ScheduledStart == nil {
			log.Info("dropping restored entry that is no longer a scheduled broadcast",
				zap.String("channel_id", e.Channel),
				zap.String("video_id", e.Resource.ID),
			)
			return nil
		}
		return fresh
	case errors.Is(err, youtube.ErrNotFound), errors.Is(err, youtube.ErrMalformed):
		log.Info("dropping restored broadcast",
			zap.String("channel_id", e.Channel),
			zap.String("video_id", e.Resource.ID),
			zap.Error(err),
		)
		return nil
	default:
		log.Warn("keeping stored state of unresolvable broadcast",
			zap.String("channel_id", e.Channel),
			zap.String("video_id", e.Resource.ID),
			zap.Error(err),
		)
		if e.Resource.ScheduledStart == nil {
			return nil
		}
		return e.Resource
	}
}
