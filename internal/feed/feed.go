// Package feed parses the Atom documents a WebSub hub pushes for YouTube
// channel feeds.
package feed

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"
)

var (
	// ErrNoEntry is returned when the document has no entry.
	ErrNoEntry = errors.New("feed has no entry")
	// ErrMissingIDs is returned when the first entry lacks yt:videoId or yt:channelId.
	ErrMissingIDs = errors.New("feed entry is missing video or channel id")
)

// Entry is the first entry of a push notification.
type Entry struct {
	VideoID   string
	ChannelID string
	Title     string
	Link      string
}

// IsDeletion reports whether body announces a deleted entry.
func IsDeletion(body []byte) bool {
	return bytes.Contains(body, []byte("deleted-entry"))
}

// Parse extracts the first entry from an Atom push body.
func Parse(body []byte) (*Entry, error) {
	f, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	if len(f.Items) == 0 {
		return nil, ErrNoEntry
	}
	item := f.Items[0]

	e := &Entry{
		VideoID:   ytValue(item, "videoId"),
		ChannelID: ytValue(item, "channelId"),
		Title:     strings.TrimSpace(item.Title),
		Link:      item.Link,
	}
	if e.VideoID == "" || e.ChannelID == "" {
		return nil, ErrMissingIDs
	}
	return e, nil
}

func ytValue(item *gofeed.Item, name string) string {
	values := item.Extensions["yt"][name]
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0].Value)
}
