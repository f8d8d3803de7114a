package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/events"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/httpapi"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/log"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/registry"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/reminder"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/tracker"
)

// ChannelResponse describes one registry binding.
type ChannelResponse struct {
	Subject    string `json:"subject"`
	ChannelID  string `json:"channel_id"`
	Active     bool   `json:"active"`
	Broadcasts int    `json:"broadcasts"`
}

// SetChannelRequest is the body of PUT /channels/:subject.
type SetChannelRequest struct {
	ChannelID string `json:"channel_id" binding:"required"`
}

// BroadcastResponse describes one tracked broadcast.
type BroadcastResponse struct {
	ChannelID      string     `json:"channel_id"`
	Subject        string     `json:"subject"`
	VideoID        string     `json:"video_id"`
	Title          string     `json:"title"`
	Link           string     `json:"link"`
	ScheduledStart *time.Time `json:"scheduled_start_time,omitempty"`
	ActualStart    *time.Time `json:"actual_start_time,omitempty"`
	ReminderAt     *time.Time `json:"reminder_at,omitempty"`
}

func (h *Handler) channelResponse(b registry.Binding) ChannelResponse {
	tracked, active := h.tracker.Store().Tracked(b.ChannelID)
	return ChannelResponse{
		Subject:    b.Subject,
		ChannelID:  b.ChannelID,
		Active:     active,
		Broadcasts: len(tracked),
	}
}

// ListChannels handles GET /api/v1/channels
func (h *Handler) ListChannels(c *gin.Context) {
	bindings := h.registry.Bindings()
	out := make([]ChannelResponse, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, h.channelResponse(b))
	}
	httpapi.RespondList(c, out)
}

// SetChannel handles PUT /api/v1/channels/:subject
func (h *Handler) SetChannel(c *gin.Context) {
	subject := c.Param("subject")

	var req SetChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.RespondValidationError(c, httpapi.ErrCodeValidation, "Invalid request body: "+err.Error())
		return
	}

	change, changed, err := h.registry.Set(c.Request.Context(), subject, strings.TrimSpace(req.ChannelID))
	switch {
	case errors.Is(err, registry.ErrInvalidSubject):
		httpapi.RespondValidationError(c, httpapi.ErrCodeValidation, fmt.Sprintf("Invalid subject %q", subject))
		return
	case errors.Is(err, registry.ErrInvalidChannelID):
		httpapi.RespondValidationError(c, httpapi.ErrCodeInvalidChannelID, "The channel id is not a valid YouTube channel id")
		return
	case errors.Is(err, registry.ErrChannelTaken):
		httpapi.RespondConflict(c, httpapi.ErrCodeChannelTaken, "The channel is already bound to another subject")
		return
	case err != nil:
		log.Error("failed to persist channel registry",
			zap.String("subject", subject),
			zap.Error(err),
		)
		httpapi.RespondInternalError(c, httpapi.ErrCodeStorage, "Failed to save channel registry")
		return
	}

	channel, _ := h.registry.Channel(subject)
	resp := h.channelResponse(registry.Binding{Subject: subject, ChannelID: channel})
	if changed {
		log.Info("channel binding changed",
			zap.String("subject", subject),
			zap.String("kind", string(change.Kind)),
			zap.String("old_channel_id", change.Old),
			zap.String("new_channel_id", change.New),
		)
	}
	if changed && change.Kind == registry.ChangeAdd {
		httpapi.RespondCreated(c, resp)
		return
	}
	httpapi.RespondOK(c, resp)
}

// DeleteChannel handles DELETE /api/v1/channels/:subject
func (h *Handler) DeleteChannel(c *gin.Context) {
	subject := c.Param("subject")

	change, err := h.registry.Remove(c.Request.Context(), subject)
	switch {
	case errors.Is(err, registry.ErrSubjectNotFound):
		httpapi.RespondNotFound(c, "Subject not found")
		return
	case err != nil:
		log.Error("failed to persist channel registry",
			zap.String("subject", subject),
			zap.Error(err),
		)
		httpapi.RespondInternalError(c, httpapi.ErrCodeStorage, "Failed to save channel registry")
		return
	}

	log.Info("channel binding removed",
		zap.String("subject", subject),
		zap.String("channel_id", change.Old),
	)
	httpapi.RespondNoContent(c)
}

// ListBroadcasts handles GET /api/v1/broadcasts
func (h *Handler) ListBroadcasts(c *gin.Context) {
	entries := h.tracker.Store().Flatten()
	out := make([]BroadcastResponse, 0, len(entries))
	for _, e := range entries {
		subject, ok := h.registry.Subject(e.Channel)
		if !ok {
			subject = e.Channel
		}
		resp := BroadcastResponse{
			ChannelID:      e.Channel,
			Subject:        subject,
			VideoID:        e.Resource.ID,
			Title:          e.Resource.Title,
			Link:           e.Resource.Link,
			ScheduledStart: e.Resource.ScheduledStart,
			ActualStart:    e.Resource.ActualStart,
		}
		if at, ok := h.tracker.Reminders().Deadline(reminder.Key{Channel: e.Channel, ResourceID: e.Resource.ID}); ok {
			resp.ReminderAt = &at
		}
		out = append(out, resp)
	}
	httpapi.RespondList(c, out)
}

// Reconcile handles POST /api/v1/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	result, err := h.tracker.Tick(c.Request.Context())
	switch {
	case errors.Is(err, tracker.ErrTickInProgress):
		httpapi.RespondConflict(c, httpapi.ErrCodeReconcileInProgress, "A reconciliation is already running")
		return
	case err != nil:
		log.Warn("manual reconciliation aborted", zap.Error(err))
		httpapi.RespondInternalError(c, httpapi.ErrCodeInternal, "Reconciliation aborted")
		return
	}
	httpapi.RespondOK(c, result)
}

// Healthz handles GET /healthz
func (h *Handler) Healthz(c *gin.Context) {
	httpapi.RespondOK(c, gin.H{"status": "ok"})
}

// Readyz handles GET /readyz
func (h *Handler) Readyz(c *gin.Context) {
	if h.health != nil {
		if err := h.health.Health(c.Request.Context()); err != nil {
			log.Warn("readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "state backend unavailable"})
			return
		}
	}
	httpapi.RespondOK(c, gin.H{"status": "ready"})
}

// Metrics serves the prometheus registry after refreshing the gauges.
func (h *Handler) Metrics() gin.HandlerFunc {
	return gin.WrapH(h.metrics.Handler(func() {
		h.metrics.SetTrackedBroadcasts(h.tracker.Store().Len())
		h.metrics.SetPendingReminders(h.tracker.Reminders().Len())
	}))
}

// Help handles GET /help/youtube
func (h *Handler) Help(c *gin.Context) {
	var b strings.Builder
	b.WriteString("YouTube lifecycle notifier\n\n")
	b.WriteString("Events are emitted for new videos, scheduled broadcasts, reminders at the\n")
	b.WriteString("scheduled start and broadcasts going live. Each kind can be switched off:\n\n")
	for _, t := range events.AllTypes {
		state := "enabled"
		if h.options.Disabled(t) {
			state = "disabled"
		}
		fmt.Fprintf(&b, "  %-18s %-20s %s\n", events.OptionFlag(t), t, state)
	}
	c.String(http.StatusOK, b.String())
}
