package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/kv"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/log"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/youtube"
)

// Blob keys in the key-value store.
const (
	LiveStateKey  = "youtube_live_state"
	VideoStateKey = "youtube_video_state"
)

// record is the persisted form of a resource. Instants are epoch seconds.
type record struct {
	VideoID            string   `json:"video_id"`
	Title              string   `json:"title"`
	Link               string   `json:"link"`
	Type               string   `json:"type"`
	Description        string   `json:"description"`
	Thumbnail          string   `json:"thumbnail"`
	ScheduledStartTime *float64 `json:"scheduled_start_time"`
	ActualStartTime    *float64 `json:"actual_start_time"`
}

type videoState struct {
	Videos []record `json:"videos"`
}

func toRecord(r *youtube.Resource) record {
	return record{
		VideoID:            r.ID,
		Title:              r.Title,
		Link:               r.Link,
		Type:               r.Kind.String(),
		Description:        r.Description,
		Thumbnail:          r.Thumbnail,
		ScheduledStartTime: toEpoch(r.ScheduledStart),
		ActualStartTime:    toEpoch(r.ActualStart),
	}
}

func (rec record) resource(loc *time.Location) (*youtube.Resource, error) {
	kind, err := youtube.ParseKind(rec.Type)
	if err != nil {
		return nil, err
	}
	if rec.VideoID == "" {
		return nil, fmt.Errorf("record without video_id")
	}
	return &youtube.Resource{
		ID:             rec.VideoID,
		Title:          rec.Title,
		Link:           rec.Link,
		Kind:           kind,
		Description:    rec.Description,
		Thumbnail:      rec.Thumbnail,
		ScheduledStart: fromEpoch(rec.ScheduledStartTime, loc),
		ActualStart:    fromEpoch(rec.ActualStartTime, loc),
	}, nil
}

func toEpoch(t *time.Time) *float64 {
	if t == nil {
		return nil
	}
	v := float64(t.UnixMicro()) / 1e6
	return &v
}

func fromEpoch(v *float64, loc *time.Location) *time.Time {
	if v == nil {
		return nil
	}
	sec, frac := math.Modf(*v)
	t := time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond)).In(loc)
	return &t
}

// EncodeSnapshot serializes snap into the live-state and video-state blobs.
func EncodeSnapshot(snap Snapshot) (live []byte, videos []byte, err error) {
	liveState := make(map[string][]record, len(snap.Channels))
	for ch, resources := range snap.Channels {
		recs := make([]record, 0, len(resources))
		for _, r := range resources {
			recs = append(recs, toRecord(r))
		}
		liveState[ch] = recs
	}
	vs := videoState{Videos: make([]record, 0, len(snap.Ledger))}
	for _, r := range snap.Ledger {
		vs.Videos = append(vs.Videos, toRecord(r))
	}

	if live, err = json.Marshal(liveState); err != nil {
		return nil, nil, fmt.Errorf("marshal live state: %w", err)
	}
	if videos, err = json.Marshal(vs); err != nil {
		return nil, nil, fmt.Errorf("marshal video state: %w", err)
	}
	return live, videos, nil
}

// DecodeSnapshot is the inverse of EncodeSnapshot. A nil blob decodes to an
// empty value. Records that cannot be decoded are skipped and logged.
func DecodeSnapshot(live, videos []byte, loc *time.Location) (Snapshot, error) {
	snap := Snapshot{Channels: make(map[string][]*youtube.Resource)}

	if len(live) > 0 {
		var liveState map[string][]record
		if err := json.Unmarshal(live, &liveState); err != nil {
			return Snapshot{}, fmt.Errorf("unmarshal live state: %w", err)
		}
		for ch, recs := range liveState {
			resources := make([]*youtube.Resource, 0, len(recs))
			for _, rec := range recs {
				r, err := rec.resource(loc)
				if err != nil {
					log.Warn("skipping malformed tracked record",
						zap.String("channel_id", ch),
						zap.String("video_id", rec.VideoID),
						zap.Error(err),
					)
					continue
				}
				resources = append(resources, r)
			}
			snap.Channels[ch] = resources
		}
	}

	if len(videos) > 0 {
		var vs videoState
		if err := json.Unmarshal(videos, &vs); err != nil {
			return Snapshot{}, fmt.Errorf("unmarshal video state: %w", err)
		}
		for _, rec := range vs.Videos {
			r, err := rec.resource(loc)
			if err != nil {
				log.Warn("skipping malformed ledger record",
					zap.String("video_id", rec.VideoID),
					zap.Error(err),
				)
				continue
			}
			snap.Ledger = append(snap.Ledger, r)
		}
	}

	return snap, nil
}

// Persister snapshots a Store into a kv.Store and reads snapshots back.
type Persister struct {
	store    *Store
	kv       kv.Store
	location *time.Location
}

// NewPersister creates a persister for store backed by backend.
func NewPersister(store *Store, backend kv.Store, loc *time.Location) *Persister {
	if loc == nil {
		loc = time.Local
	}
	return &Persister{store: store, kv: backend, location: loc}
}

// Save writes the current store contents.
func (p *Persister) Save(ctx context.Context) error {
	live, videos, err := EncodeSnapshot(p.store.Snapshot())
	if err != nil {
		return err
	}
	if err := p.kv.Put(ctx, LiveStateKey, live); err != nil {
		return fmt.Errorf("put live state: %w", err)
	}
	if err := p.kv.Put(ctx, VideoStateKey, videos); err != nil {
		return fmt.Errorf("put video state: %w", err)
	}
	return nil
}

// Load reads the last saved snapshot. Missing blobs are treated as empty.
func (p *Persister) Load(ctx context.Context) (Snapshot, error) {
	live, err := p.get(ctx, LiveStateKey)
	if err != nil {
		return Snapshot{}, err
	}
	videos, err := p.get(ctx, VideoStateKey)
	if err != nil {
		return Snapshot{}, err
	}
	return DecodeSnapshot(live, videos, p.location)
}

func (p *Persister) get(ctx context.Context, key string) ([]byte, error) {
	v, err := p.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			log.Warn("missing saved state, starting empty", zap.String("key", key))
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

// RunPeriodic saves the store every interval until ctx is cancelled.
func (p *Persister) RunPeriodic(ctx context.Context, interval time.Duration) {
	log.Info("starting periodic state snapshot", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("periodic state snapshot stopped")
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := p.Save(opCtx); err != nil {
				log.Error("state snapshot failed", zap.Error(err))
			}
			cancel()
		}
	}
}
