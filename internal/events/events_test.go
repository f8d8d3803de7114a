package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/ids"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/youtube"
)

func ts(t time.Time) *time.Time { return &t }

func TestNew(t *testing.T) {
	loc := time.FixedZone("JST", 9*3600)
	scheduled := time.Date(2026, 10, 20, 21, 0, 0, 0, loc)
	actual := scheduled.Add(2 * time.Minute)

	video := &youtube.Resource{
		ID: "abc123", Title: "Clip", Link: youtube.WatchURL("abc123"),
		Kind: youtube.KindVideo, Description: "desc ...", Thumbnail: "https://i.ytimg.com/abc123.jpg",
	}
	broadcast := &youtube.Resource{
		ID: "b1", Title: "Stream", Link: youtube.WatchURL("b1"), Kind: youtube.KindBroadcast,
		ScheduledStart: ts(scheduled),
	}
	live := broadcast.Clone()
	live.ActualStart = ts(actual)

	tests := []struct {
		name    string
		typ     Type
		r       *youtube.Resource
		wantErr error
		want    map[string]any
	}{
		{
			name: "published",
			typ:  TypePublished,
			r:    video,
			want: map[string]any{
				"title":       "Clip",
				"description": "desc ...",
				"link":        "https://www.youtube.com/watch?v=abc123",
			},
		},
		{
			name: "scheduled",
			typ:  TypeBroadcastScheduled,
			r:    broadcast,
			want: map[string]any{"scheduled_start_time": "2026-10-20 09:00PM (JST)"},
		},
		{
			name: "live",
			typ:  TypeBroadcastLive,
			r:    live,
			want: map[string]any{
				"scheduled_start_time": "2026-10-20 09:00PM (JST)",
				"actual_start_time":    "2026-10-20 09:02PM (JST)",
			},
		},
		{name: "reminder without schedule", typ: TypeBroadcastReminder, r: video, wantErr: ErrMissingScheduledStart},
		{name: "live without actual start", typ: TypeBroadcastLive, r: broadcast, wantErr: ErrMissingActualStart},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.typ, "alice", "UC1", tt.r)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if !ids.IsValidEventID(e.ID) {
				t.Errorf("ID = %q is not a valid event id", e.ID)
			}
			if e.Subject != "alice" || e.ChannelID != "UC1" || e.VideoID != tt.r.ID {
				t.Errorf("event = %+v", e)
			}
			for k, v := range tt.want {
				if e.Payload[k] != v {
					t.Errorf("Payload[%q] = %v, want %v", k, e.Payload[k], v)
				}
			}
		})
	}
}

func TestNewImages(t *testing.T) {
	r := &youtube.Resource{ID: "abc123", Kind: youtube.KindVideo}
	e, _ := New(TypePublished, "s", "UC1", r)
	if imgs := e.Payload["images"].([]string); len(imgs) != 0 {
		t.Errorf("images = %v, want empty", imgs)
	}

	r.Thumbnail = "https://i.ytimg.com/x.jpg"
	e, _ = New(TypePublished, "s", "UC1", r)
	if imgs := e.Payload["images"].([]string); len(imgs) != 1 || imgs[0] != r.Thumbnail {
		t.Errorf("images = %v", imgs)
	}
}

type captureSink struct {
	name string
	err  error
	got  []*Event
}

func (s *captureSink) Name() string { return s.name }

func (s *captureSink) Publish(ctx context.Context, e *Event) error {
	s.got = append(s.got, e)
	return s.err
}

type countRecorder struct {
	emitted, suppressed, failed int
}

func (r *countRecorder) EventEmitted(string)                { r.emitted++ }
func (r *countRecorder) EventSuppressed(string)             { r.suppressed++ }
func (r *countRecorder) EventDeliveryFailed(string, string) { r.failed++ }

func TestDispatcher(t *testing.T) {
	ok := &captureSink{name: "ok"}
	broken := &captureSink{name: "broken", err: errors.New("down")}
	rec := &countRecorder{}
	d := NewDispatcher(StaticOptions{TypeBroadcastReminder: true}, rec, broken, ok)

	d.Emit(context.Background(), &Event{ID: "evt-1", Type: TypePublished})
	d.Emit(context.Background(), &Event{ID: "evt-2", Type: TypeBroadcastReminder})

	if len(ok.got) != 1 || ok.got[0].ID != "evt-1" {
		t.Errorf("ok sink got %v, want only evt-1", ok.got)
	}
	if len(broken.got) != 1 {
		t.Errorf("failing sink should still be offered the event")
	}
	if rec.emitted != 1 || rec.suppressed != 1 || rec.failed != 1 {
		t.Errorf("recorder = %+v", rec)
	}
}

type fakeConn struct {
	msgs []*nats.Msg
}

func (c *fakeConn) PublishMsg(m *nats.Msg) error {
	c.msgs = append(c.msgs, m)
	return nil
}

func TestNATSSink(t *testing.T) {
	conn := &fakeConn{}
	sink := NewNATSSink(conn, "youtube.")

	e := &Event{ID: "evt-1", Type: TypeBroadcastLive, VideoID: "b1"}
	if err := sink.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(conn.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(conn.msgs))
	}
	msg := conn.msgs[0]
	if msg.Subject != "youtube.broadcast.live" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if msg.Header.Get(nats.MsgIdHdr) != "evt-1" {
		t.Errorf("Nats-Msg-Id = %q", msg.Header.Get(nats.MsgIdHdr))
	}
	var decoded Event
	if err := json.Unmarshal(msg.Data, &decoded); err != nil || decoded.VideoID != "b1" {
		t.Errorf("Data = %s, err = %v", msg.Data, err)
	}
}

func TestOptionFlag(t *testing.T) {
	seen := make(map[string]bool)
	for _, typ := range AllTypes {
		flag := OptionFlag(typ)
		if flag == "" {
			t.Errorf("OptionFlag(%s) is empty", typ)
		}
		if seen[flag] {
			t.Errorf("OptionFlag(%s) = %s is shared with another type", typ, flag)
		}
		seen[flag] = true
	}
	if OptionFlag("other") != "" {
		t.Error("OptionFlag(unknown) should be empty")
	}
}
