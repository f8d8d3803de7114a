package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// truncationMarker is appended to every description; the API snippet
// description is not always the full text.
const truncationMarker = " ..."

// videoListResponse mirrors the parts of videos.list we request.
type videoListResponse struct {
	Items []videoItem `json:"items"`
}

type videoItem struct {
	Snippet              *snippet              `json:"snippet"`
	LiveStreamingDetails *liveStreamingDetails `json:"liveStreamingDetails"`
}

type snippet struct {
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Thumbnails  map[string]thumbnail `json:"thumbnails"`
}

type thumbnail struct {
	URL string `json:"url"`
}

type liveStreamingDetails struct {
	ScheduledStartTime string `json:"scheduledStartTime"`
	ActualStartTime    string `json:"actualStartTime"`
}

// DataAPIClient fetches video metadata from the YouTube Data API v3,
// rotating through the configured API keys on every request.
type DataAPIClient struct {
	baseURL    string
	keys       []string
	next       atomic.Uint64
	httpClient *http.Client
	location   *time.Location
}

// NewDataAPIClient creates a Data API fetcher.
func NewDataAPIClient(baseURL string, keys []string, timeout time.Duration, loc *time.Location) *DataAPIClient {
	if loc == nil {
		loc = time.Local
	}
	return &DataAPIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		keys:       keys,
		httpClient: &http.Client{Timeout: timeout},
		location:   loc,
	}
}

func (c *DataAPIClient) nextKey() string {
	if len(c.keys) == 0 {
		return ""
	}
	n := c.next.Add(1) - 1
	return c.keys[n%uint64(len(c.keys))]
}

// Fetch performs one videos.list request for id.
func (c *DataAPIClient) Fetch(ctx context.Context, id string) (*Resource, error) {
	q := url.Values{}
	q.Set("part", "liveStreamingDetails,snippet")
	q.Set("fields", "items(liveStreamingDetails,snippet)")
	q.Set("id", id)
	q.Set("key", c.nextKey())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/videos?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isNetworkError(err) {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode >= 500:
		// 403 is how the API reports an exhausted quota; the next attempt uses another key
		return nil, fmt.Errorf("%w: youtube api returned status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: youtube api returned status %d", ErrMalformed, resp.StatusCode)
	}

	return decodeVideo(id, body, c.location)
}

// decodeVideo turns a videos.list body into a Resource. The kind is decided
// by the presence of liveStreamingDetails.
func decodeVideo(id string, body []byte, loc *time.Location) (*Resource, error) {
	var list videoListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(list.Items) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	item := list.Items[0]

	res := &Resource{
		ID:   id,
		Link: WatchURL(id),
		Kind: KindVideo,
	}

	if s := item.Snippet; s != nil {
		res.Title = s.Title
		res.Description = s.Description + truncationMarker
		if th, ok := s.Thumbnails["standard"]; ok {
			res.Thumbnail = th.URL
		}
	}

	if live := item.LiveStreamingDetails; live != nil {
		res.Kind = KindBroadcast
		var err error
		if res.ScheduledStart, err = parseTimestamp(live.ScheduledStartTime, loc); err != nil {
			return nil, fmt.Errorf("%w: scheduledStartTime: %v", ErrMalformed, err)
		}
		if res.ActualStart, err = parseTimestamp(live.ActualStartTime, loc); err != nil {
			return nil, fmt.Errorf("%w: actualStartTime: %v", ErrMalformed, err)
		}
	}

	return res, nil
}

func parseTimestamp(s string, loc *time.Location) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	t = t.In(loc)
	return &t, nil
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && !errors.Is(err, context.Canceled)
}
