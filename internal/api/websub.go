package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/feed"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/log"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/tracker"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/websub"
)

// VerifyIntent handles GET /youtube_callback, the hub's intent verification.
func (h *Handler) VerifyIntent(c *gin.Context) {
	mode := c.Query("hub.mode")
	topic := c.Query("hub.topic")
	challenge := c.Query("hub.challenge")
	if mode == "" || topic == "" || challenge == "" {
		c.Status(http.StatusNotFound)
		return
	}

	channel, ok := websub.ChannelFromTopic(topic)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	active := h.tracker.Store().HasChannel(channel)
	if !websub.AcceptIntent(mode, active) {
		log.Info("refusing hub verification",
			zap.String("mode", mode),
			zap.String("channel_id", channel),
			zap.Bool("active", active),
		)
		c.Status(http.StatusNotFound)
		return
	}

	log.Debug("hub verification accepted",
		zap.String("mode", mode),
		zap.String("channel_id", channel),
	)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(challenge))
}

// ReceiveFeed handles POST /youtube_callback. The notification is queued and
// the hub gets 200 right away; failures are only logged.
func (h *Handler) ReceiveFeed(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxFeedBytes))
	if err != nil {
		log.Warn("cannot read pushed feed", zap.Error(err))
		c.Status(http.StatusOK)
		return
	}

	if feed.IsDeletion(body) {
		log.Debug("ignoring deleted-entry notification")
		c.Status(http.StatusOK)
		return
	}

	entry, err := feed.Parse(body)
	if err != nil {
		if errors.Is(err, feed.ErrNoEntry) {
			log.Debug("pushed feed has no entry")
		} else {
			log.Warn("cannot parse pushed feed", zap.Error(err))
		}
		c.Status(http.StatusOK)
		return
	}

	h.pushes.Submit(tracker.Notification{
		VideoID:   entry.VideoID,
		ChannelID: entry.ChannelID,
		Title:     entry.Title,
		Link:      entry.Link,
	})
	c.Status(http.StatusOK)
}
