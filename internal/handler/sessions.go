package handler

import (
	"errors"
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devpulse-io/devpulse/internal/models"
	"github.com/devpulse-io/devpulse/internal/schema"
	"github.com/devpulse-io/devpulse/internal/store"
)

// ListSessions serves GET /api/sessions with an optional status filter.
// A corrupt record is skipped, not allowed to hide the rest.
func (h *Handler) ListSessions(c *gin.Context) {
	_, scope, ok := h.authorize(c)
	if !ok {
		return
	}

	filter := models.Status(c.Query("status"))
	if filter != "" && !models.ValidStatus(filter) {
		h.errorResponse(c, 400, KindMalformedRequest, "Unknown status filter", nil)
		return
	}

	raws, err := scope.List(c.Request.Context())
	if err != nil {
		h.errorResponse(c, 503, KindUpstreamUnavailable, "Session store unavailable", err)
		return
	}

	sessions := make([]*models.Session, 0, len(raws))
	for _, raw := range raws {
		session, err := schema.ToPublicSession(raw)
		if err != nil {
			log.Printf("skipping malformed session record %s: %v", raw.ID, err)
			continue
		}
		if filter != "" && session.Status != filter {
			continue
		}
		sessions = append(sessions, session)
	}
	c.JSON(200, sessions)
}

func (h *Handler) GetSession(c *gin.Context) {
	_, scope, ok := h.authorize(c)
	if !ok {
		return
	}

	raw, err := scope.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.sessionError(c, err)
		return
	}

	session, err := schema.ToPublicSession(raw)
	if err != nil {
		h.errorResponse(c, 502, KindMalformedUpstream, "Session record is malformed", err)
		return
	}
	c.JSON(200, session)
}

// CreateSession validates the request fully before any write reaches
// the store: workflow and model against their closed sets, the name
// against the slug format, repository access against the collaborator.
func (h *Handler) CreateSession(c *gin.Context) {
	principal, scope, ok := h.authorize(c)
	if !ok {
		return
	}

	var body struct {
		Name       string `json:"name" binding:"required"`
		Workflow   string `json:"workflow" binding:"required"`
		Model      string `json:"model" binding:"required"`
		Repository struct {
			URL    string `json:"url" binding:"required"`
			Branch string `json:"branch"`
		} `json:"repository" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		h.errorResponse(c, 400, KindMalformedRequest, "Invalid request format", err)
		return
	}

	if !models.ValidName(body.Name) {
		h.errorResponse(c, 400, KindMalformedRequest, "Session name must be a lowercase slug", nil)
		return
	}
	if !models.KnownWorkflows[body.Workflow] {
		h.errorResponse(c, 400, KindMalformedRequest, "Unknown workflow type", nil)
		return
	}
	if !models.SupportedModels[body.Model] {
		h.errorResponse(c, 400, KindMalformedRequest, "Unsupported model", nil)
		return
	}

	accessible, err := h.verifier.RepoAccessible(c.Request.Context(), principal.GitHubToken, body.Repository.URL)
	if err != nil {
		h.errorResponse(c, 503, KindUpstreamUnavailable, "Repository verification unavailable", err)
		return
	}
	if !accessible {
		h.errorResponse(c, 403, KindForbidden, "You do not have access to this repository", nil)
		return
	}

	branch := body.Repository.Branch
	if branch == "" {
		branch = "main"
	}
	now := time.Now().UTC()
	raw := &store.RawSession{
		Name:     body.Name,
		Phase:    store.PhaseInitializing,
		Progress: 0,
		Model:    body.Model,
		Workflow: body.Workflow,
		Repo: store.RawRepo{
			URL:       body.Repository.URL,
			Branch:    branch,
			Connected: true,
		},
		CreatedAt:   now,
		Transitions: []store.Transition{{Phase: store.PhaseInitializing, At: now}},
	}

	created, err := scope.Create(c.Request.Context(), raw)
	if err != nil {
		h.sessionError(c, err)
		return
	}

	session, err := schema.ToPublicSession(created)
	if err != nil {
		h.errorResponse(c, 502, KindMalformedUpstream, "Session record is malformed", err)
		return
	}

	h.events.Dispatch(scope.Owner(), session)
	c.JSON(201, session)
}

// UpdateSession serves PATCH /api/sessions/:id. Clients request an
// action from the closed vocabulary, never field writes.
func (h *Handler) UpdateSession(c *gin.Context) {
	_, scope, ok := h.authorize(c)
	if !ok {
		return
	}

	var body struct {
		Action   string `json:"action" binding:"required"`
		Feedback string `json:"feedback"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		h.errorResponse(c, 400, KindMalformedRequest, "Invalid request format", err)
		return
	}

	action := models.Action(body.Action)
	switch action {
	case models.ActionApprove, models.ActionReject, models.ActionPause, models.ActionResume:
	default:
		h.errorResponse(c, 400, KindInvalidAction, "Unknown action", nil)
		return
	}

	updated, err := scope.Update(c.Request.Context(), c.Param("id"), func(raw *store.RawSession) error {
		current := schema.StatusForPhase(raw.Phase)
		next, err := models.Transition(current, action)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		raw.Phase = schema.PhaseForStatus(next)
		raw.Transitions = append(raw.Transitions, store.Transition{Phase: raw.Phase, At: now})
		if action == models.ActionReject {
			raw.ReviewFeedback = body.Feedback
		}
		if next == models.StatusDone {
			raw.Progress = 100
			raw.CurrentTask = ""
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			h.errorResponse(c, 409, KindConflict, "Action is not valid for the session's current status", nil)
		case errors.Is(err, models.ErrInvalidAction):
			h.errorResponse(c, 400, KindInvalidAction, "Unknown action", nil)
		default:
			h.sessionError(c, err)
		}
		return
	}

	session, err := schema.ToPublicSession(updated)
	if err != nil {
		h.errorResponse(c, 502, KindMalformedUpstream, "Session record is malformed", err)
		return
	}

	h.events.Dispatch(scope.Owner(), session)
	c.JSON(200, session)
}

// DeleteSession stops the workload, removes the record and announces
// the removal. Ownership is re-checked against the record even though
// the scope already filters: cluster access and ownership are
// different axes.
func (h *Handler) DeleteSession(c *gin.Context) {
	principal, scope, ok := h.authorize(c)
	if !ok {
		return
	}
	id := c.Param("id")

	raw, err := scope.Get(c.Request.Context(), id)
	if err != nil {
		h.sessionError(c, err)
		return
	}
	if raw.Owner != principal.ID {
		h.errorResponse(c, 403, KindForbidden, "Only the session owner may delete it", nil)
		return
	}

	if h.releaser != nil {
		if err := h.releaser.ReleaseWorkload(c.Request.Context(), id); err != nil {
			h.errorResponse(c, 503, KindUpstreamUnavailable, "Could not stop session workload", err)
			return
		}
	}

	if err := scope.Delete(c.Request.Context(), id); err != nil {
		h.sessionError(c, err)
		return
	}

	h.events.DispatchDeleted(scope.Owner(), id)
	c.Status(204)
}

// sessionError maps store errors onto the wire taxonomy.
func (h *Handler) sessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.errorResponse(c, 404, KindNotFound, "Session not found", nil)
	case errors.Is(err, store.ErrAlreadyExists):
		h.errorResponse(c, 409, KindConflict, "Session already exists", nil)
	case errors.Is(err, store.ErrUnavailable):
		h.errorResponse(c, 503, KindUpstreamUnavailable, "Session store unavailable", err)
	default:
		h.errorResponse(c, 502, KindMalformedUpstream, "Session record is malformed", err)
	}
}
