// Package websub manages WebSub subscriptions to YouTube channel feeds.
package websub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/log"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/youtube"
)

// Hub modes.
const (
	ModeSubscribe   = "subscribe"
	ModeUnsubscribe = "unsubscribe"
)

// DefaultHubURL is Google's public hub.
const DefaultHubURL = "https://pubsubhubbub.appspot.com/subscribe"

const topicBase = "https://www.youtube.com/xml/feeds/videos.xml"

// ErrHubRejected is returned when the hub answers with a non-2xx status.
var ErrHubRejected = errors.New("hub rejected request")

var errHubUnreachable = errors.New("hub unreachable")

// TopicURL returns the feed topic for a channel.
func TopicURL(channel string) string {
	return topicBase + "?channel_id=" + url.QueryEscape(channel)
}

// ChannelFromTopic extracts the channel_id query parameter of a topic URL.
func ChannelFromTopic(topic string) (string, bool) {
	u, err := url.Parse(topic)
	if err != nil {
		return "", false
	}
	ch := u.Query().Get("channel_id")
	return ch, ch != ""
}

// AcceptIntent reports whether a verification request for a channel with the
// given activity should be confirmed. Subscriptions are confirmed only for
// active channels and unsubscriptions only for inactive ones.
func AcceptIntent(mode string, active bool) bool {
	switch mode {
	case ModeSubscribe:
		return active
	case ModeUnsubscribe:
		return !active
	default:
		return false
	}
}

// Recorder counts hub requests. metrics.Metrics implements it.
type Recorder interface {
	HubRequest(mode, result string)
}

// HubConfig configures a Hub.
type HubConfig struct {
	URL          string
	CallbackURL  string
	LeaseSeconds int
	Timeout      time.Duration
	Backoff      youtube.Backoff
}

// Hub sends subscribe and unsubscribe requests. Verification is asynchronous:
// the hub later calls the callback with a challenge.
type Hub struct {
	url        string
	callback   string
	lease      int
	httpClient *http.Client
	backoff    youtube.Backoff
	recorder   Recorder
}

// NewHub creates a hub client. recorder may be nil.
func NewHub(cfg HubConfig, recorder Recorder) *Hub {
	if cfg.URL == "" {
		cfg.URL = DefaultHubURL
	}
	if cfg.LeaseSeconds <= 0 {
		cfg.LeaseSeconds = 86400
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Hub{
		url:        cfg.URL,
		callback:   cfg.CallbackURL,
		lease:      cfg.LeaseSeconds,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		backoff:    cfg.Backoff,
		recorder:   recorder,
	}
}

// Subscribe asks the hub to start pushing channel's feed.
func (h *Hub) Subscribe(ctx context.Context, channel string) error {
	return h.request(ctx, ModeSubscribe, channel)
}

// Unsubscribe asks the hub to stop pushing channel's feed.
func (h *Hub) Unsubscribe(ctx context.Context, channel string) error {
	return h.request(ctx, ModeUnsubscribe, channel)
}

// request retries network failures with backoff. A non-2xx answer is final.
func (h *Hub) request(ctx context.Context, mode, channel string) error {
	form := url.Values{
		"hub.callback":      {h.callback},
		"hub.topic":         {TopicURL(channel)},
		"hub.verify":        {"async"},
		"hub.mode":          {mode},
		"hub.lease_seconds": {strconv.Itoa(h.lease)},
	}
	body := form.Encode()

	attempts, err := h.backoff.Retry(ctx, func(ctx context.Context) error {
		return h.send(ctx, body)
	}, func(err error) bool { return errors.Is(err, errHubUnreachable) })

	result := "ok"
	switch {
	case err == nil:
		log.Info("hub request accepted",
			zap.String("mode", mode),
			zap.String("channel_id", channel),
			zap.Int("attempts", attempts),
		)
	case errors.Is(err, ErrHubRejected):
		result = "rejected"
	default:
		result = "error"
	}
	if h.recorder != nil {
		h.recorder.HubRequest(mode, result)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", mode, channel, err)
	}
	return nil
}

func (h *Hub) send(ctx context.Context, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", errHubUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: HTTP %d: %s", ErrHubRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
