// Package api serves the WebSub callback and the admin endpoints.
package api

import (
	"context"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/events"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/metrics"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/registry"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/tracker"
)

// maxFeedBytes caps the size of a pushed Atom document.
const maxFeedBytes = 1 << 20

// HealthChecker reports backend health for /readyz.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Submitter accepts parsed push notifications for background handling.
// tracker.Queue implements it.
type Submitter interface {
	Submit(n tracker.Notification) bool
}

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	tracker  *tracker.Tracker
	pushes   Submitter
	registry *registry.Registry
	health   HealthChecker
	metrics  *metrics.Metrics
	options  events.Options
}

// NewHandler creates a new handler. health, m and options may be nil.
func NewHandler(tr *tracker.Tracker, pushes Submitter, reg *registry.Registry, health HealthChecker, m *metrics.Metrics, options events.Options) *Handler {
	if options == nil {
		options = events.StaticOptions{}
	}
	return &Handler{
		tracker:  tr,
		pushes:   pushes,
		registry: reg,
		health:   health,
		metrics:  m,
		options:  options,
	}
}
