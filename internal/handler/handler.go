package handler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/devpulse-io/devpulse/internal/auth"
	"github.com/devpulse-io/devpulse/internal/hub"
	"github.com/devpulse-io/devpulse/internal/models"
	"github.com/devpulse-io/devpulse/internal/store"
)

// Error kinds on the wire. Stable vocabulary; clients switch on these.
const (
	KindUnauthorized        = "unauthorized"
	KindForbidden           = "forbidden"
	KindNotFound            = "not_found"
	KindInvalidAction       = "invalid_action"
	KindMalformedRequest    = "malformed_request"
	KindConflict            = "conflict"
	KindUpstreamUnavailable = "upstream_unavailable"
	KindMalformedUpstream   = "malformed_upstream_record"
)

// Authorizer exchanges a bearer credential for the acting principal
// and a store handle scoped to them.
type Authorizer interface {
	Authorize(ctx context.Context, authHeader string) (auth.Principal, store.Scope, error)
}

// RepoVerifier checks the principal can see the repository a new
// session targets.
type RepoVerifier interface {
	RepoAccessible(ctx context.Context, token, repoURL string) (bool, error)
}

// Notifier is the notification translator surface the handlers use.
type Notifier interface {
	List(ctx context.Context, principalID, token string, unreadOnly bool) ([]models.Notification, error)
	MarkRead(ctx context.Context, principalID, token, threadID string) error
	Mute(ctx context.Context, principalID, token, threadID string) error
	RememberToken(principalID, token string)
}

// EventPublisher dispatches session change events after mutations.
type EventPublisher interface {
	Dispatch(owner string, s *models.Session)
	DispatchDeleted(owner, id string)
}

type Handler struct {
	gate     Authorizer
	hub      *hub.Hub
	events   EventPublisher
	notifier Notifier
	verifier RepoVerifier
	releaser store.WorkloadReleaser

	heartbeat time.Duration
}

func New(gate Authorizer, h *hub.Hub, events EventPublisher, notifier Notifier, verifier RepoVerifier, releaser store.WorkloadReleaser) *Handler {
	return &Handler{
		gate:      gate,
		hub:       h,
		events:    events,
		notifier:  notifier,
		verifier:  verifier,
		releaser:  releaser,
		heartbeat: 30 * time.Second,
	}
}

func (h *Handler) Register(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/health", h.Health)
		api.GET("/sessions", h.ListSessions)
		api.GET("/sessions/:id", h.GetSession)
		api.POST("/sessions", h.CreateSession)
		api.PATCH("/sessions/:id", h.UpdateSession)
		api.DELETE("/sessions/:id", h.DeleteSession)
		api.GET("/events", h.StreamEvents)
		api.GET("/notifications", h.ListNotifications)
		api.PATCH("/notifications/read", h.MarkNotificationRead)
		api.POST("/notifications/mute", h.MuteNotification)
	}
}

func (h *Handler) newHeartbeat() *time.Ticker {
	return time.NewTicker(h.heartbeat)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

// errorResponse writes the stable error shape. Internal error detail is
// logged, never echoed to the client.
func (h *Handler) errorResponse(c *gin.Context, statusCode int, kind, message string, err error) {
	if err != nil {
		log.Printf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}

	requestID := c.GetString("requestID")
	if requestID == "" {
		requestID = fmt.Sprintf("%.8s", uuid.New().String())
	}

	c.JSON(statusCode, gin.H{
		"kind":       kind,
		"error":      message,
		"request_id": requestID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"endpoint":   c.Request.URL.Path,
	})
}

// authorize runs the gate and writes the 401 on failure. Every handler
// calls this before any other work.
func (h *Handler) authorize(c *gin.Context) (auth.Principal, store.Scope, bool) {
	principal, scope, err := h.gate.Authorize(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		h.errorResponse(c, 401, KindUnauthorized, "Authentication required", nil)
		return auth.Principal{}, store.Scope{}, false
	}
	if h.notifier != nil && principal.GitHubToken != "" {
		h.notifier.RememberToken(principal.ID, principal.GitHubToken)
	}
	return principal, scope, true
}
