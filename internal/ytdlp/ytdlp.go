package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Live status values reported by yt-dlp.
const (
	StatusIsLive     = "is_live"
	StatusIsUpcoming = "is_upcoming"
	StatusWasLive    = "was_live"
	StatusPostLive   = "post_live"
	StatusNotLive    = "not_live"
)

// ErrUnavailable is returned when yt-dlp reports the video as gone or private.
var ErrUnavailable = errors.New("video unavailable")

var unavailableMarkers = []string{
	"Video unavailable",
	"Private video",
	"This video has been removed",
	"does not exist",
}

// UnixTime wraps time.Time to support unmarshalling from a Unix timestamp (number)
// as returned by yt-dlp's release_timestamp field.
type UnixTime struct {
	time.Time
}

// UnmarshalJSON handles both Unix timestamp integers and RFC3339 strings.
func (u *UnixTime) UnmarshalJSON(data []byte) error {
	var ts float64
	if err := json.Unmarshal(data, &ts); err == nil {
		u.Time = time.Unix(int64(ts), 0).UTC()
		return nil
	}

	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	u.Time = t
	return nil
}

// VideoInfo is the subset of yt-dlp's --dump-json output the notifier needs.
type VideoInfo struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Thumbnail   string    `json:"thumbnail"`
	ChannelID   string    `json:"channel_id"`
	WebpageURL  string    `json:"webpage_url"`
	IsLive      bool      `json:"is_live"`
	LiveStatus  string    `json:"live_status"`
	ReleaseTime *UnixTime `json:"release_timestamp,omitempty"`
	Timestamp   *UnixTime `json:"timestamp,omitempty"`
}

// IsBroadcast reports whether the video is or was a live stream.
func (v *VideoInfo) IsBroadcast() bool {
	switch v.LiveStatus {
	case StatusIsLive, StatusIsUpcoming, StatusWasLive, StatusPostLive:
		return true
	}
	return v.IsLive
}

// HasStarted reports whether the broadcast has actually gone live.
func (v *VideoInfo) HasStarted() bool {
	return v.IsLive || v.LiveStatus == StatusIsLive || v.LiveStatus == StatusWasLive || v.LiveStatus == StatusPostLive
}

// Client wraps yt-dlp command execution.
type Client struct {
	ytdlpPath string
	httpProxy string
	run       func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)
}

// NewClient creates a new yt-dlp client.
func NewClient(ytdlpPath, httpProxy string) *Client {
	if ytdlpPath == "" {
		ytdlpPath = "yt-dlp"
	}
	return &Client{
		ytdlpPath: ytdlpPath,
		httpProxy: httpProxy,
		run:       runCommand,
	}
}

// GetVideoInfo retrieves video metadata using yt-dlp.
func (c *Client) GetVideoInfo(ctx context.Context, videoURL string) (*VideoInfo, error) {
	args := []string{
		"--dump-json",
		"--skip-download",
		"--no-playlist",
		"--no-warnings",
	}

	if c.httpProxy != "" {
		args = append(args, "--proxy", c.httpProxy)
	}

	args = append(args, videoURL)

	stdout, stderr, err := c.run(ctx, c.ytdlpPath, args...)
	if err != nil {
		msg := string(stderr)
		for _, marker := range unavailableMarkers {
			if strings.Contains(msg, marker) {
				return nil, fmt.Errorf("%w: %s", ErrUnavailable, strings.TrimSpace(msg))
			}
		}
		return nil, fmt.Errorf("yt-dlp failed: %w (stderr: %s)", err, msg)
	}

	var info VideoInfo
	if err := json.Unmarshal(stdout, &info); err != nil {
		return nil, fmt.Errorf("parse yt-dlp output: %w", err)
	}

	if info.LiveStatus == StatusIsLive {
		info.IsLive = true
	}

	return &info, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
