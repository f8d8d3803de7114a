package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/ytdlp"
)

// VideoInfoGetter is the part of the yt-dlp client the fetcher uses.
type VideoInfoGetter interface {
	GetVideoInfo(ctx context.Context, videoURL string) (*ytdlp.VideoInfo, error)
}

// YtDlpFetcher resolves resources by shelling out to yt-dlp. It is the
// fallback backend for deployments without Data API keys.
type YtDlpFetcher struct {
	client   VideoInfoGetter
	location *time.Location
}

// NewYtDlpFetcher creates a yt-dlp backed fetcher.
func NewYtDlpFetcher(client VideoInfoGetter, loc *time.Location) *YtDlpFetcher {
	if loc == nil {
		loc = time.Local
	}
	return &YtDlpFetcher{client: client, location: loc}
}

// Fetch runs yt-dlp once for id.
func (f *YtDlpFetcher) Fetch(ctx context.Context, id string) (*Resource, error) {
	info, err := f.client.GetVideoInfo(ctx, WatchURL(id))
	if err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.Is(err, ytdlp.ErrUnavailable):
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		case ctx.Err() != nil:
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}
	return fromVideoInfo(id, info, f.location), nil
}

func fromVideoInfo(id string, info *ytdlp.VideoInfo, loc *time.Location) *Resource {
	res := &Resource{
		ID:          id,
		Title:       info.Title,
		Link:        WatchURL(id),
		Kind:        KindVideo,
		Description: info.Description + truncationMarker,
		Thumbnail:   info.Thumbnail,
	}
	if !info.IsBroadcast() {
		return res
	}

	res.Kind = KindBroadcast
	if info.ReleaseTime != nil {
		scheduled := info.ReleaseTime.In(loc)
		res.ScheduledStart = &scheduled
		if info.HasStarted() {
			actual := scheduled
			res.ActualStart = &actual
		}
	}
	return res
}
