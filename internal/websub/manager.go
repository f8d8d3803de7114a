package websub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/log"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/registry"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/reminder"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/state"
)

// ErrChannelNotFound is returned when unsubscribing a channel that was never
// subscribed.
var ErrChannelNotFound = errors.New("channel not subscribed")

// HubClient is the part of Hub the manager uses.
type HubClient interface {
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
}

// ReminderCanceller cancels armed reminders.
type ReminderCanceller interface {
	Cancel(key reminder.Key) bool
}

// Manager keeps the set of active channels and their hub subscriptions.
type Manager struct {
	hub         HubClient
	store       *state.Store
	reminders   ReminderCanceller
	concurrency int
}

// NewManager creates a manager. reminders may be nil.
func NewManager(hub HubClient, store *state.Store, reminders ReminderCanceller) *Manager {
	return &Manager{hub: hub, store: store, reminders: reminders, concurrency: 8}
}

// Subscribe marks channel active and asks the hub to push its feed. The
// channel stays active even when the hub request fails; the next renewal
// retries it.
func (m *Manager) Subscribe(ctx context.Context, channel string) error {
	if m.store.EnsureChannel(channel) {
		log.Info("tracking channel", zap.String("channel_id", channel))
	}
	return m.hub.Subscribe(ctx, channel)
}

// Unsubscribe cancels every reminder of channel, removes its tracking table
// when evict is set and asks the hub to stop pushing.
func (m *Manager) Unsubscribe(ctx context.Context, channel string, evict bool) error {
	tracked, ok := m.store.Tracked(channel)
	if !ok {
		return ErrChannelNotFound
	}
	if evict {
		tracked, _ = m.store.RemoveChannel(channel)
	}
	if m.reminders != nil {
		for _, r := range tracked {
			m.reminders.Cancel(reminder.Key{Channel: channel, ResourceID: r.ID})
		}
	}
	log.Info("untracking channel",
		zap.String("channel_id", channel),
		zap.Bool("evict", evict),
		zap.Int("broadcasts", len(tracked)),
	)
	return m.hub.Unsubscribe(ctx, channel)
}

// SubscribeAll subscribes channels concurrently. Every failure is logged and
// the joined errors are returned.
func (m *Manager) SubscribeAll(ctx context.Context, channels []string) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for _, ch := range channels {
		ch := ch
		g.Go(func() error {
			if err := m.Subscribe(ctx, ch); err != nil {
				log.Warn("subscribe failed",
					zap.String("channel_id", ch),
					zap.Error(err),
				)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// RenewAll re-subscribes every active channel before its lease expires.
func (m *Manager) RenewAll(ctx context.Context) error {
	channels := m.store.Channels()
	log.Info("renewing subscriptions", zap.Int("channels", len(channels)))
	return m.SubscribeAll(ctx, channels)
}

// RunRenewal renews all subscriptions every interval until ctx is cancelled.
func (m *Manager) RunRenewal(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.RenewAll(ctx); err != nil && ctx.Err() == nil {
				log.Warn("subscription renewal incomplete", zap.Error(err))
			}
		}
	}
}

// Apply reacts to a registry change.
func (m *Manager) Apply(ctx context.Context, c registry.Change) error {
	switch c.Kind {
	case registry.ChangeAdd:
		return m.Subscribe(ctx, c.New)
	case registry.ChangeRemove:
		return m.unsubscribeIfTracked(ctx, c.Old)
	case registry.ChangeUpdate:
		if err := m.unsubscribeIfTracked(ctx, c.Old); err != nil {
			log.Warn("unsubscribe of replaced channel failed",
				zap.String("channel_id", c.Old),
				zap.Error(err),
			)
		}
		return m.Subscribe(ctx, c.New)
	default:
		return fmt.Errorf("unknown change kind %q", c.Kind)
	}
}

func (m *Manager) unsubscribeIfTracked(ctx context.Context, channel string) error {
	err := m.Unsubscribe(ctx, channel, true)
	if errors.Is(err, ErrChannelNotFound) {
		return nil
	}
	return err
}
