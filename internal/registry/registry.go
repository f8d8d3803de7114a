// Package registry maps notification subjects to the YouTube channels they
// follow. The mapping is seeded from configuration, editable at runtime and
// persisted as a single blob.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/kv"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/log"
)

// BlobKey is the kv key the registry is persisted under.
const BlobKey = "channel_registry"

var (
	ErrSubjectNotFound  = errors.New("subject not found")
	ErrInvalidSubject   = errors.New("invalid subject")
	ErrInvalidChannelID = errors.New("invalid channel id")
	ErrChannelTaken     = errors.New("channel is already bound to another subject")
)

var channelIDPattern = regexp.MustCompile(`^UC[A-Za-z0-9_-]{22}$`)
var subjectPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidChannelID reports whether id looks like a YouTube channel id.
func ValidChannelID(id string) bool {
	return channelIDPattern.MatchString(id)
}

// ValidSubject reports whether s can be used as a subject.
func ValidSubject(s string) bool {
	return subjectPattern.MatchString(s)
}

// ChangeKind is the kind of registry mutation.
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeUpdate ChangeKind = "update"
	ChangeRemove ChangeKind = "remove"
)

// Change describes one mutation. Old is empty for adds, New is empty for removals.
type Change struct {
	Kind    ChangeKind
	Subject string
	Old     string
	New     string
}

// Binding is one subject to channel mapping.
type Binding struct {
	Subject   string `json:"subject"`
	ChannelID string `json:"channel_id"`
}

// Registry is safe for concurrent use. A mutation is applied in memory only
// when it was persisted.
type Registry struct {
	writeMu   sync.Mutex // serializes Set and Remove across persist
	mu        sync.RWMutex
	subjects  map[string]string // subject -> channel
	channels  map[string]string // channel -> subject
	store     kv.Store
	listeners []func(context.Context, Change)
}

// New creates an empty registry persisting to store. store may be nil.
func New(store kv.Store) *Registry {
	return &Registry{
		subjects: make(map[string]string),
		channels: make(map[string]string),
		store:    store,
	}
}

// OnChange registers fn to be called after every mutation, outside the lock.
func (r *Registry) OnChange(fn func(context.Context, Change)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Load populates the registry from the persisted blob, then adds every seed
// binding whose subject is not present yet. Invalid bindings are skipped.
// Listeners are not notified.
func (r *Registry) Load(ctx context.Context, seed map[string]string) error {
	persisted := map[string]string{}
	if r.store != nil {
		raw, err := r.store.Get(ctx, BlobKey)
		switch {
		case errors.Is(err, kv.ErrNotFound):
		case err != nil:
			return fmt.Errorf("load registry: %w", err)
		default:
			if err := json.Unmarshal(raw, &persisted); err != nil {
				return fmt.Errorf("decode registry: %w", err)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range []map[string]string{persisted, seed} {
		for _, subject := range sortedKeys(m) {
			channel := m[subject]
			if _, ok := r.subjects[subject]; ok {
				continue
			}
			if !ValidSubject(subject) || !ValidChannelID(channel) {
				log.Warn("skipping invalid channel binding",
					zap.String("subject", subject),
					zap.String("channel_id", channel),
				)
				continue
			}
			if owner, ok := r.channels[channel]; ok {
				log.Warn("skipping duplicate channel binding",
					zap.String("subject", subject),
					zap.String("channel_id", channel),
					zap.String("bound_to", owner),
				)
				continue
			}
			r.subjects[subject] = channel
			r.channels[channel] = subject
		}
	}
	return nil
}

// Set binds subject to channel. It returns the resulting change and false
// when the binding already existed unchanged.
func (r *Registry) Set(ctx context.Context, subject, channel string) (Change, bool, error) {
	if !ValidSubject(subject) {
		return Change{}, false, ErrInvalidSubject
	}
	if !ValidChannelID(channel) {
		return Change{}, false, ErrInvalidChannelID
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	old, exists := r.subjects[subject]
	if exists && old == channel {
		r.mu.Unlock()
		return Change{}, false, nil
	}
	if owner, ok := r.channels[channel]; ok && owner != subject {
		r.mu.Unlock()
		return Change{}, false, ErrChannelTaken
	}
	change := Change{Kind: ChangeAdd, Subject: subject, New: channel}
	if exists {
		change.Kind = ChangeUpdate
		change.Old = old
		delete(r.channels, old)
	}
	r.subjects[subject] = channel
	r.channels[channel] = subject
	r.mu.Unlock()

	if err := r.persist(ctx); err != nil {
		r.mu.Lock()
		delete(r.channels, channel)
		if exists {
			r.subjects[subject] = old
			r.channels[old] = subject
		} else {
			delete(r.subjects, subject)
		}
		r.mu.Unlock()
		return Change{}, false, err
	}
	r.notify(ctx, change)
	return change, true, nil
}

// Remove drops subject.
func (r *Registry) Remove(ctx context.Context, subject string) (Change, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	channel, ok := r.subjects[subject]
	if !ok {
		r.mu.Unlock()
		return Change{}, ErrSubjectNotFound
	}
	delete(r.subjects, subject)
	delete(r.channels, channel)
	r.mu.Unlock()

	if err := r.persist(ctx); err != nil {
		r.mu.Lock()
		r.subjects[subject] = channel
		r.channels[channel] = subject
		r.mu.Unlock()
		return Change{}, err
	}
	change := Change{Kind: ChangeRemove, Subject: subject, Old: channel}
	r.notify(ctx, change)
	return change, nil
}

// Channel returns the channel bound to subject.
func (r *Registry) Channel(subject string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.subjects[subject]
	return ch, ok
}

// Subject returns the subject bound to channel.
func (r *Registry) Subject(channel string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.channels[channel]
	return s, ok
}

// Channels returns every bound channel id, sorted.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.channels)
}

// Bindings returns all bindings sorted by subject.
func (r *Registry) Bindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Binding, 0, len(r.subjects))
	for _, s := range sortedKeys(r.subjects) {
		out = append(out, Binding{Subject: s, ChannelID: r.subjects[s]})
	}
	return out
}

func (r *Registry) persist(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.mu.RLock()
	raw, err := json.Marshal(r.subjects)
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := r.store.Put(ctx, BlobKey, raw); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

func (r *Registry) notify(ctx context.Context, c Change) {
	r.mu.RLock()
	listeners := append([]func(context.Context, Change){}, r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, c)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
