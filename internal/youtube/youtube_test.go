package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/ytdlp"
)

const broadcastBody = `{
  "items": [{
    "snippet": {
      "title": "Morning stream",
      "description": "We play things",
      "thumbnails": {
        "default": {"url": "https://i.ytimg.com/vi/live1/default.jpg"},
        "standard": {"url": "https://i.ytimg.com/vi/live1/sddefault.jpg"}
      }
    },
    "liveStreamingDetails": {
      "scheduledStartTime": "2026-10-20T09:00:00Z"
    }
  }]
}`

func TestDecodeVideo(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)

	t.Run("broadcast", func(t *testing.T) {
		res, err := decodeVideo("live1", []byte(broadcastBody), loc)
		if err != nil {
			t.Fatalf("decodeVideo() error = %v", err)
		}
		if res.Kind != KindBroadcast {
			t.Errorf("Kind = %v, want BROADCAST", res.Kind)
		}
		if res.Title != "Morning stream" {
			t.Errorf("Title = %q", res.Title)
		}
		if res.Description != "We play things ..." {
			t.Errorf("Description = %q, want truncation marker", res.Description)
		}
		if res.Thumbnail != "https://i.ytimg.com/vi/live1/sddefault.jpg" {
			t.Errorf("Thumbnail = %q, want standard resolution", res.Thumbnail)
		}
		if res.Link != "https://www.youtube.com/watch?v=live1" {
			t.Errorf("Link = %q", res.Link)
		}
		want := time.Date(2026, 10, 20, 17, 0, 0, 0, loc)
		if res.ScheduledStart == nil || !res.ScheduledStart.Equal(want) {
			t.Fatalf("ScheduledStart = %v, want %v", res.ScheduledStart, want)
		}
		if res.ScheduledStart.Location() != loc {
			t.Errorf("ScheduledStart location = %v, want %v", res.ScheduledStart.Location(), loc)
		}
		if res.ActualStart != nil {
			t.Errorf("ActualStart = %v, want nil", res.ActualStart)
		}
	})

	t.Run("video without standard thumbnail", func(t *testing.T) {
		body := `{"items":[{"snippet":{"title":"Clip","description":"d","thumbnails":{"high":{"url":"h"}}}}]}`
		res, err := decodeVideo("abc123", []byte(body), loc)
		if err != nil {
			t.Fatalf("decodeVideo() error = %v", err)
		}
		if res.Kind != KindVideo {
			t.Errorf("Kind = %v, want VIDEO", res.Kind)
		}
		if res.Thumbnail != "" {
			t.Errorf("Thumbnail = %q, want empty", res.Thumbnail)
		}
	})

	t.Run("empty items is structural failure", func(t *testing.T) {
		_, err := decodeVideo("gone", []byte(`{"items":[]}`), loc)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("decodeVideo() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("garbage body", func(t *testing.T) {
		_, err := decodeVideo("x", []byte(`<html>`), loc)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("decodeVideo() error = %v, want ErrMalformed", err)
		}
	})

	t.Run("bad timestamp", func(t *testing.T) {
		body := `{"items":[{"liveStreamingDetails":{"scheduledStartTime":"tomorrow"}}]}`
		_, err := decodeVideo("x", []byte(body), loc)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("decodeVideo() error = %v, want ErrMalformed", err)
		}
	})
}

func TestDataAPIClientRotatesKeys(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.URL.Query().Get("key"))
		mu.Unlock()
		if r.URL.Path != "/videos" {
			t.Errorf("path = %v, want /videos", r.URL.Path)
		}
		if got := r.URL.Query().Get("part"); got != "liveStreamingDetails,snippet" {
			t.Errorf("part = %v", got)
		}
		w.Write([]byte(broadcastBody))
	}))
	defer srv.Close()

	client := NewDataAPIClient(srv.URL, []string{"k1", "k2", "k3"}, time.Second, time.UTC)
	for i := 0; i < 4; i++ {
		if _, err := client.Fetch(context.Background(), "live1"); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
	}

	want := []string{"k1", "k2", "k3", "k1"}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("request %d key = %v, want %v", i, keys[i], want[i])
		}
	}
}

func TestDataAPIClientStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusInternalServerError, ErrTransient},
		{http.StatusTooManyRequests, ErrTransient},
		{http.StatusForbidden, ErrTransient},
		{http.StatusBadRequest, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := NewDataAPIClient(srv.URL, []string{"k"}, time.Second, time.UTC)
			_, err := client.Fetch(context.Background(), "x")
			if !errors.Is(err, tt.want) {
				t.Errorf("Fetch() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDataAPIClientNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewDataAPIClient(url, []string{"k"}, time.Second, time.UTC)
	_, err := client.Fetch(context.Background(), "x")
	if !errors.Is(err, ErrTransient) {
		t.Errorf("Fetch() error = %v, want ErrTransient", err)
	}
}

type fakeFetcher struct {
	errs  []error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, id string) (*Resource, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &Resource{ID: id, Kind: KindVideo}, nil
}

func fastBackoff(attempts int) Backoff {
	return Backoff{Base: time.Millisecond, Multiplier: 2, Cap: 5 * time.Millisecond, MaxAttempts: attempts}
}

func TestRetryingResolver(t *testing.T) {
	t.Run("recovers from transient errors", func(t *testing.T) {
		f := &fakeFetcher{errs: []error{ErrTransient, ErrTransient}}
		res, err := NewRetryingResolver(f, fastBackoff(5)).Resolve(context.Background(), "abc")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if res.ID != "abc" || f.calls != 3 {
			t.Errorf("Resolve() = %v after %d calls, want abc after 3", res.ID, f.calls)
		}
	})

	t.Run("budget exhausted", func(t *testing.T) {
		f := &fakeFetcher{errs: []error{ErrTransient, ErrTransient, ErrTransient, ErrTransient}}
		_, err := NewRetryingResolver(f, fastBackoff(3)).Resolve(context.Background(), "abc")
		if !errors.Is(err, ErrTransient) {
			t.Errorf("Resolve() error = %v, want ErrTransient", err)
		}
		if f.calls != 3 {
			t.Errorf("calls = %d, want 3", f.calls)
		}
	})

	t.Run("structural failure is not retried", func(t *testing.T) {
		f := &fakeFetcher{errs: []error{ErrNotFound}}
		_, err := NewRetryingResolver(f, fastBackoff(5)).Resolve(context.Background(), "abc")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Resolve() error = %v, want ErrNotFound", err)
		}
		if f.calls != 1 {
			t.Errorf("calls = %d, want 1", f.calls)
		}
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		f := &fakeFetcher{errs: []error{ErrTransient, ErrTransient}}
		b := Backoff{Base: time.Hour, MaxAttempts: 5}
		_, err := NewRetryingResolver(f, b).Resolve(ctx, "abc")
		if !errors.Is(err, ErrTransient) {
			t.Errorf("Resolve() error = %v, want ErrTransient", err)
		}
		if f.calls != 1 {
			t.Errorf("calls = %d, want 1", f.calls)
		}
	})
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Multiplier: 2, Cap: 10 * time.Second, MaxAttempts: 10}

	if d := b.Delay(1); d != 0 {
		t.Errorf("Delay(1) = %v, want 0", d)
	}
	if d := b.Delay(2); d < time.Second || d > 1200*time.Millisecond {
		t.Errorf("Delay(2) = %v, want ~1s", d)
	}
	if d := b.Delay(3); d < 2*time.Second || d > 2400*time.Millisecond {
		t.Errorf("Delay(3) = %v, want ~2s", d)
	}
	for attempt := 4; attempt < 20; attempt++ {
		if d := b.Delay(attempt); d > 10*time.Second {
			t.Errorf("Delay(%d) = %v, want <= cap", attempt, d)
		}
	}
}

func TestResourceMerge(t *testing.T) {
	t1 := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	old := &Resource{ID: "v", Title: "old", Kind: KindBroadcast, ScheduledStart: &t1}
	incoming := &Resource{ID: "v", Title: "new", Kind: KindBroadcast, ScheduledStart: &t2, Thumbnail: "th"}

	if old.SameSchedule(incoming) {
		t.Error("SameSchedule() = true for different schedules")
	}
	if err := old.Merge(incoming); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !old.Equal(incoming) {
		t.Errorf("after Merge() = %+v, want %+v", old, incoming)
	}
	if old.ScheduledStart == incoming.ScheduledStart {
		t.Error("Merge() shares the time pointer with the source")
	}

	if err := old.Merge(&Resource{ID: "other"}); err == nil {
		t.Error("Merge() with different id = nil, want error")
	}
}

func TestResourceIsPending(t *testing.T) {
	start := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		r    Resource
		want bool
	}{
		{"upcoming broadcast", Resource{Kind: KindBroadcast, ScheduledStart: &start}, true},
		{"started broadcast", Resource{Kind: KindBroadcast, ScheduledStart: &start, ActualStart: &start}, false},
		{"plain video", Resource{Kind: KindVideo}, false},
		{"unknown", Resource{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.IsPending(); got != tt.want {
				t.Errorf("IsPending() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindVideo, KindBroadcast} {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%v) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseKind("PODCAST"); err == nil {
		t.Error("ParseKind(PODCAST) = nil error, want error")
	}
}

type fakeInfoGetter struct {
	info *ytdlp.VideoInfo
	err  error
}

func (f *fakeInfoGetter) GetVideoInfo(ctx context.Context, videoURL string) (*ytdlp.VideoInfo, error) {
	return f.info, f.err
}

func TestYtDlpFetcher(t *testing.T) {
	release := &ytdlp.UnixTime{Time: time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)}

	t.Run("upcoming broadcast", func(t *testing.T) {
		f := NewYtDlpFetcher(&fakeInfoGetter{info: &ytdlp.VideoInfo{
			Title: "Soon", LiveStatus: ytdlp.StatusIsUpcoming, ReleaseTime: release,
		}}, time.UTC)
		res, err := f.Fetch(context.Background(), "live1")
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if res.Kind != KindBroadcast || res.ScheduledStart == nil || res.ActualStart != nil {
			t.Errorf("Fetch() = %+v, want pending broadcast", res)
		}
	})

	t.Run("live broadcast", func(t *testing.T) {
		f := NewYtDlpFetcher(&fakeInfoGetter{info: &ytdlp.VideoInfo{
			LiveStatus: ytdlp.StatusIsLive, ReleaseTime: release,
		}}, time.UTC)
		res, err := f.Fetch(context.Background(), "live1")
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if res.ActualStart == nil {
			t.Error("ActualStart = nil, want set for live broadcast")
		}
	})

	t.Run("plain video", func(t *testing.T) {
		f := NewYtDlpFetcher(&fakeInfoGetter{info: &ytdlp.VideoInfo{LiveStatus: ytdlp.StatusNotLive}}, time.UTC)
		res, err := f.Fetch(context.Background(), "abc123")
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if res.Kind != KindVideo {
			t.Errorf("Kind = %v, want VIDEO", res.Kind)
		}
	})

	t.Run("unavailable", func(t *testing.T) {
		f := NewYtDlpFetcher(&fakeInfoGetter{err: fmt.Errorf("%w: Private video", ytdlp.ErrUnavailable)}, time.UTC)
		if _, err := f.Fetch(context.Background(), "x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Fetch() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("process failure is transient", func(t *testing.T) {
		f := NewYtDlpFetcher(&fakeInfoGetter{err: errors.New("exit status 1")}, time.UTC)
		if _, err := f.Fetch(context.Background(), "x"); !errors.Is(err, ErrTransient) {
			t.Errorf("Fetch() error = %v, want ErrTransient", err)
		}
	})
}
