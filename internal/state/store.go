package state

import (
	"errors"
	"sort"
	"sync"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/youtube"
)

// ErrChannelNotTracked is returned when an operation names a channel that has
// no tracking set.
var ErrChannelNotTracked = errors.New("channel not tracked")

// UpsertResult describes what Upsert did with an observation.
type UpsertResult int

const (
	Inserted UpsertResult = iota + 1
	Merged
	Duplicate
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Merged:
		return "merged"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Entry pairs a tracked broadcast with its channel.
type Entry struct {
	Channel  string
	Resource *youtube.Resource
}

// Batch is a set of mutations computed outside the lock and applied at once.
type Batch struct {
	Updates   []Entry
	Evictions []Entry
}

// Store owns the channel tracking table and the dedup ledger. Every method
// takes the same mutex; values handed out are copies.
type Store struct {
	mu        sync.Mutex
	channels  map[string]map[string]*youtube.Resource
	ledger    []*youtube.Resource
	announced map[string]struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		channels:  make(map[string]map[string]*youtube.Resource),
		announced: make(map[string]struct{}),
	}
}

// EnsureChannel creates an empty tracking set for channel if there is none.
// It reports whether a set was created.
func (s *Store) EnsureChannel(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channel]; ok {
		return false
	}
	s.channels[channel] = make(map[string]*youtube.Resource)
	return true
}

// HasChannel reports whether channel is currently active.
func (s *Store) HasChannel(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channels[channel]
	return ok
}

// RemoveChannel drops the channel and returns the broadcasts it tracked.
func (s *Store) RemoveChannel(channel string) ([]*youtube.Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.channels[channel]
	if !ok {
		return nil, false
	}
	delete(s.channels, channel)
	return cloneSet(set), true
}

// Channels returns the active channel ids in sorted order.
func (s *Store) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Tracked returns the broadcasts tracked for channel.
func (s *Store) Tracked(channel string) ([]*youtube.Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.channels[channel]
	if !ok {
		return nil, false
	}
	return cloneSet(set), true
}

// Lookup returns the tracked broadcast (channel, id).
func (s *Store) Lookup(channel, id string) (*youtube.Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.channels[channel][id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Upsert records a broadcast observation. An existing entry with the same
// title and scheduled start is a Duplicate and is left untouched; otherwise
// the observation is merged into the existing entry or inserted. onChange,
// when not nil, runs under the store lock with the stored value for every
// non-duplicate outcome.
func (s *Store) Upsert(channel string, r *youtube.Resource, onChange func(*youtube.Resource)) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.channels[channel]
	if !ok {
		return 0, ErrChannelNotTracked
	}

	result := Inserted
	if existing, ok := set[r.ID]; ok {
		if existing.SameSchedule(r) {
			return Duplicate, nil
		}
		if err := existing.Merge(r); err != nil {
			return 0, err
		}
		result = Merged
	} else {
		set[r.ID] = r.Clone()
	}

	if onChange != nil {
		onChange(set[r.ID].Clone())
	}
	return result, nil
}

// Evict removes (channel, id) and reports whether it was present.
func (s *Store) Evict(channel, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(channel, id)
}

func (s *Store) evictLocked(channel, id string) bool {
	set, ok := s.channels[channel]
	if !ok {
		return false
	}
	if _, ok := set[id]; !ok {
		return false
	}
	delete(set, id)
	return true
}

// Flatten returns every tracked (channel, broadcast) pair.
func (s *Store) Flatten() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, ch := range sortedKeys(s.channels) {
		for _, r := range cloneSet(s.channels[ch]) {
			out = append(out, Entry{Channel: ch, Resource: r})
		}
	}
	return out
}

// ApplyHooks run under the store lock while a Batch is applied.
type ApplyHooks struct {
	// OnUpdate receives copies of an entry before and after the merge.
	OnUpdate func(channel string, old, updated *youtube.Resource)
	// OnEvict receives every eviction that removed an entry.
	OnEvict func(Entry)
}

// Apply performs a batch of merges and evictions under one lock acquisition.
// Updates only touch entries that are still tracked. It returns the evictions
// that actually removed an entry.
func (s *Store) Apply(b Batch, hooks ApplyHooks) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range b.Updates {
		existing, ok := s.channels[u.Channel][u.Resource.ID]
		if !ok {
			continue
		}
		old := existing.Clone()
		if err := existing.Merge(u.Resource); err != nil {
			continue
		}
		if hooks.OnUpdate != nil {
			hooks.OnUpdate(u.Channel, old, existing.Clone())
		}
	}

	var removed []Entry
	for _, e := range b.Evictions {
		if s.evictLocked(e.Channel, e.Resource.ID) {
			removed = append(removed, e)
			if hooks.OnEvict != nil {
				hooks.OnEvict(e)
			}
		}
	}
	return removed
}

// Len returns the number of tracked broadcasts across all channels.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, set := range s.channels {
		n += len(set)
	}
	return n
}

// MarkAnnounced appends r to the dedup ledger unless its id is already there.
// It reports whether r was newly added.
func (s *Store) MarkAnnounced(r *youtube.Resource) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.announced[r.ID]; ok {
		return false
	}
	s.announced[r.ID] = struct{}{}
	s.ledger = append(s.ledger, r.Clone())
	return true
}

// IsAnnounced reports whether id is in the dedup ledger.
func (s *Store) IsAnnounced(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.announced[id]
	return ok
}

// Ledger returns a copy of the dedup ledger in announcement order.
func (s *Store) Ledger() []*youtube.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*youtube.Resource, len(s.ledger))
	for i, r := range s.ledger {
		out[i] = r.Clone()
	}
	return out
}

// RestoreLedger replaces the dedup ledger verbatim.
func (s *Store) RestoreLedger(ledger []*youtube.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = make([]*youtube.Resource, 0, len(ledger))
	s.announced = make(map[string]struct{}, len(ledger))
	for _, r := range ledger {
		if _, ok := s.announced[r.ID]; ok {
			continue
		}
		s.announced[r.ID] = struct{}{}
		s.ledger = append(s.ledger, r.Clone())
	}
}

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	Channels map[string][]*youtube.Resource
	Ledger   []*youtube.Resource
}

// Snapshot copies the tracking table and ledger.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Channels: make(map[string][]*youtube.Resource, len(s.channels)),
		Ledger:   make([]*youtube.Resource, len(s.ledger)),
	}
	for ch, set := range s.channels {
		snap.Channels[ch] = cloneSet(set)
	}
	for i, r := range s.ledger {
		snap.Ledger[i] = r.Clone()
	}
	return snap
}

func cloneSet(set map[string]*youtube.Resource) []*youtube.Resource {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*youtube.Resource, 0, len(set))
	for _, id := range ids {
		out = append(out, set[id].Clone())
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
