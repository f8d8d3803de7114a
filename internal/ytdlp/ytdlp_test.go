package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestUnixTimeUnmarshal(t *testing.T) {
	var u UnixTime
	if err := json.Unmarshal([]byte(`1792486800`), &u); err != nil {
		t.Fatalf("Unmarshal(number) error = %v", err)
	}
	if !u.Equal(time.Unix(1792486800, 0)) {
		t.Errorf("UnixTime = %v", u.Time)
	}

	if err := json.Unmarshal([]byte(`"2026-10-20T09:00:00Z"`), &u); err != nil {
		t.Fatalf("Unmarshal(string) error = %v", err)
	}
	if !u.Equal(time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("UnixTime = %v", u.Time)
	}
}

func TestGetVideoInfo(t *testing.T) {
	var gotArgs []string
	c := NewClient("", "http://proxy:3128")
	c.run = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		gotArgs = args
		if name != "yt-dlp" {
			t.Errorf("name = %v, want yt-dlp", name)
		}
		return []byte(`{"id":"live1","title":"Stream","live_status":"is_live","release_timestamp":1792486800}`), nil, nil
	}

	info, err := c.GetVideoInfo(context.Background(), "https://www.youtube.com/watch?v=live1")
	if err != nil {
		t.Fatalf("GetVideoInfo() error = %v", err)
	}
	if !info.IsLive || !info.IsBroadcast() || !info.HasStarted() {
		t.Errorf("GetVideoInfo() = %+v, want live broadcast", info)
	}
	if gotArgs[len(gotArgs)-1] != "https://www.youtube.com/watch?v=live1" {
		t.Errorf("last arg = %v, want video URL", gotArgs[len(gotArgs)-1])
	}
	foundProxy := false
	for i, a := range gotArgs {
		if a == "--proxy" && gotArgs[i+1] == "http://proxy:3128" {
			foundProxy = true
		}
	}
	if !foundProxy {
		t.Errorf("args = %v, want --proxy", gotArgs)
	}
}

func TestGetVideoInfoUnavailable(t *testing.T) {
	c := NewClient("yt-dlp", "")
	c.run = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		return nil, []byte("ERROR: [youtube] x: Private video. Sign in if you've been granted access"), errors.New("exit status 1")
	}

	_, err := c.GetVideoInfo(context.Background(), "https://www.youtube.com/watch?v=x")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("GetVideoInfo() error = %v, want ErrUnavailable", err)
	}
}

func TestIsBroadcast(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{StatusIsLive, true},
		{StatusIsUpcoming, true},
		{StatusWasLive, true},
		{StatusPostLive, true},
		{StatusNotLive, false},
		{"", false},
	}
	for _, tt := range tests {
		info := &VideoInfo{LiveStatus: tt.status}
		if got := info.IsBroadcast(); got != tt.want {
			t.Errorf("IsBroadcast(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
