package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/devpulse-io/devpulse/internal/models"
	"github.com/devpulse-io/devpulse/internal/notify"
)

// ListNotifications serves GET /api/notifications with an optional
// unread filter. The unread count always covers the whole mirror, not
// just the filtered page.
func (h *Handler) ListNotifications(c *gin.Context) {
	principal, _, ok := h.authorize(c)
	if !ok {
		return
	}

	unreadOnly := c.Query("unread") == "true"

	all, err := h.notifier.List(c.Request.Context(), principal.ID, principal.GitHubToken, false)
	if err != nil {
		h.notificationError(c, err)
		return
	}

	unreadCount := 0
	for _, n := range all {
		if n.Unread {
			unreadCount++
		}
	}

	notifications := all
	if unreadOnly {
		notifications = make([]models.Notification, 0, unreadCount)
		for _, n := range all {
			if n.Unread {
				notifications = append(notifications, n)
			}
		}
	}

	c.JSON(200, gin.H{
		"notifications": notifications,
		"unreadCount":   unreadCount,
	})
}

func (h *Handler) MarkNotificationRead(c *gin.Context) {
	principal, _, ok := h.authorize(c)
	if !ok {
		return
	}

	var body struct {
		ID string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		h.errorResponse(c, 400, KindMalformedRequest, "Invalid request format", err)
		return
	}

	if err := h.notifier.MarkRead(c.Request.Context(), principal.ID, principal.GitHubToken, body.ID); err != nil {
		h.notificationError(c, err)
		return
	}

	h.hub.Broadcast(principal.ID, models.NotificationReadEvent(body.ID))
	c.JSON(200, gin.H{"ok": true})
}

func (h *Handler) MuteNotification(c *gin.Context) {
	principal, _, ok := h.authorize(c)
	if !ok {
		return
	}

	var body struct {
		ID string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		h.errorResponse(c, 400, KindMalformedRequest, "Invalid request format", err)
		return
	}

	if err := h.notifier.Mute(c.Request.Context(), principal.ID, principal.GitHubToken, body.ID); err != nil {
		h.notificationError(c, err)
		return
	}
	c.JSON(200, gin.H{"ok": true})
}

func (h *Handler) notificationError(c *gin.Context, err error) {
	if errors.Is(err, notify.ErrNoToken) {
		h.errorResponse(c, 403, KindForbidden, "No GitHub account connected", nil)
		return
	}
	h.errorResponse(c, 503, KindUpstreamUnavailable, "Notification source unavailable", err)
}
