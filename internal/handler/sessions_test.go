package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devpulse-io/devpulse/internal/auth"
	"github.com/devpulse-io/devpulse/internal/feed"
	"github.com/devpulse-io/devpulse/internal/hub"
	"github.com/devpulse-io/devpulse/internal/models"
	"github.com/devpulse-io/devpulse/internal/store"
)

const testSecret = "handler-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeVerifier struct {
	accessible bool
	err        error
}

func (f *fakeVerifier) RepoAccessible(ctx context.Context, token, repoURL string) (bool, error) {
	return f.accessible, f.err
}

type fakeNotifier struct {
	notifications []models.Notification
	err           error
	marked        []string
	muted         []string
}

func (f *fakeNotifier) List(ctx context.Context, principalID, token string, unreadOnly bool) ([]models.Notification, error) {
	if f.err != nil {
		return nil, f.err
	}
	if !unreadOnly {
		return f.notifications, nil
	}
	var unread []models.Notification
	for _, n := range f.notifications {
		if n.Unread {
			unread = append(unread, n)
		}
	}
	return unread, nil
}

func (f *fakeNotifier) MarkRead(ctx context.Context, principalID, token, threadID string) error {
	if f.err != nil {
		return f.err
	}
	f.marked = append(f.marked, threadID)
	return nil
}

func (f *fakeNotifier) Mute(ctx context.Context, principalID, token, threadID string) error {
	if f.err != nil {
		return f.err
	}
	f.muted = append(f.muted, threadID)
	return nil
}

func (f *fakeNotifier) RememberToken(principalID, token string) {}

type fixture struct {
	router   *gin.Engine
	handler  *Handler
	store    *store.InMemoryStore
	hub      *hub.Hub
	bridge   *feed.Bridge
	verifier *fakeVerifier
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewInMemoryStore()
	h := hub.New(hub.DefaultQueueSize)
	bridge := feed.NewBridge(mem, mem, h)
	verifier := &fakeVerifier{accessible: true}
	notifier := &fakeNotifier{}

	handler := New(auth.NewGate(mem, testSecret), h, bridge, notifier, verifier, mem)
	router := gin.New()
	handler.Register(router)

	return &fixture{
		router:   router,
		handler:  handler,
		store:    mem,
		hub:      h,
		bridge:   bridge,
		verifier: verifier,
		notifier: notifier,
	}
}

func tokenFor(t *testing.T, user string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":          user,
		"github_token": "gho_" + user,
		"exp":          time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (f *fixture) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, user))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) seed(t *testing.T, owner, phase string) *store.RawSession {
	t.Helper()
	now := time.Now().UTC()
	created, err := f.store.Create(context.Background(), owner, &store.RawSession{
		Name:     "seeded-session",
		Phase:    phase,
		Progress: 40,
		Model:    "sonnet-4.5",
		Workflow: "chat",
		Repo: store.RawRepo{
			URL:       "https://github.com/acme/widgets",
			Branch:    "main",
			Connected: true,
		},
		CreatedAt:   now,
		Transitions: []store.Transition{{Phase: phase, At: now}},
	})
	require.NoError(t, err)
	return created
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) models.Session {
	t.Helper()
	var s models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	return s
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestEndpointsRequireAuth(t *testing.T) {
	f := newFixture(t)

	paths := []struct{ method, path string }{
		{"GET", "/api/sessions"},
		{"GET", "/api/sessions/sess-1"},
		{"POST", "/api/sessions"},
		{"PATCH", "/api/sessions/sess-1"},
		{"DELETE", "/api/sessions/sess-1"},
		{"GET", "/api/events"},
		{"GET", "/api/notifications"},
		{"PATCH", "/api/notifications/read"},
		{"POST", "/api/notifications/mute"},
	}
	for _, p := range paths {
		w := f.do(t, "", p.method, p.path, nil)
		assert.Equal(t, 401, w.Code, "%s %s", p.method, p.path)
		assert.Equal(t, KindUnauthorized, decodeError(t, w)["kind"], "%s %s", p.method, p.path)
	}
}

func TestErrorShape(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "alice", "GET", "/api/sessions/sess-nope", nil)
	require.Equal(t, 404, w.Code)

	body := decodeError(t, w)
	assert.Equal(t, KindNotFound, body["kind"])
	assert.NotEmpty(t, body["error"])
	assert.NotEmpty(t, body["request_id"])
	assert.NotEmpty(t, body["timestamp"])
	assert.Equal(t, "/api/sessions/sess-nope", body["endpoint"])
}

// Covers the full create round trip: a subscribed client sees the new
// session announced, and the stored record reads back identically.
func TestCreateSession(t *testing.T) {
	f := newFixture(t)

	sub := f.hub.Subscribe("alice")
	defer f.hub.Unsubscribe(sub)

	w := f.do(t, "alice", "POST", "/api/sessions", gin.H{
		"name":     "fix-login-bug",
		"workflow": "bugfix",
		"model":    "sonnet-4.5",
		"repository": gin.H{
			"url": "https://github.com/acme/widgets",
		},
	})
	require.Equal(t, 201, w.Code, w.Body.String())

	s := decodeSession(t, w)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "fix-login-bug", s.Name)
	assert.Equal(t, models.StatusRunning, s.Status)
	assert.Equal(t, 0, s.Progress)
	assert.Equal(t, "acme/widgets", s.Repository.Name)
	assert.Equal(t, "main", s.Repository.Branch, "branch defaults to main")
	assert.True(t, s.Repository.Connected)
	assert.Nil(t, s.ErrorMessage)
	assert.Nil(t, s.CurrentTask)
	assert.NotNil(t, s.TasksCompleted)

	select {
	case ev := <-sub.Events():
		require.Equal(t, models.EventSessionUpdated, ev.Type)
		payload := ev.Payload.(models.UpdatedPayload)
		assert.Equal(t, s.ID, payload.SessionID)
		require.NotNil(t, payload.Session)
		assert.Equal(t, models.StatusRunning, payload.Session.Status)
	case <-time.After(time.Second):
		t.Fatal("creation was not announced on the stream")
	}

	got := f.do(t, "alice", "GET", "/api/sessions/"+s.ID, nil)
	require.Equal(t, 200, got.Code)
	assert.Equal(t, s.ID, decodeSession(t, got).ID)
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t)

	valid := gin.H{
		"name":       "my-session",
		"workflow":   "chat",
		"model":      "sonnet-4.5",
		"repository": gin.H{"url": "https://github.com/acme/widgets"},
	}

	t.Run("bad slug", func(t *testing.T) {
		body := gin.H{}
		for k, v := range valid {
			body[k] = v
		}
		body["name"] = "Not A Slug"
		w := f.do(t, "alice", "POST", "/api/sessions", body)
		assert.Equal(t, 400, w.Code)
		assert.Equal(t, KindMalformedRequest, decodeError(t, w)["kind"])
	})

	t.Run("unknown workflow", func(t *testing.T) {
		body := gin.H{}
		for k, v := range valid {
			body[k] = v
		}
		body["workflow"] = "yolo"
		w := f.do(t, "alice", "POST", "/api/sessions", body)
		assert.Equal(t, 400, w.Code)
	})

	t.Run("unsupported model", func(t *testing.T) {
		body := gin.H{}
		for k, v := range valid {
			body[k] = v
		}
		body["model"] = "gpt-2"
		w := f.do(t, "alice", "POST", "/api/sessions", body)
		assert.Equal(t, 400, w.Code)
	})

	t.Run("missing repository", func(t *testing.T) {
		w := f.do(t, "alice", "POST", "/api/sessions", gin.H{
			"name": "my-session", "workflow": "chat", "model": "sonnet-4.5",
		})
		assert.Equal(t, 400, w.Code)
	})

	t.Run("inaccessible repository", func(t *testing.T) {
		f.verifier.accessible = false
		defer func() { f.verifier.accessible = true }()
		w := f.do(t, "alice", "POST", "/api/sessions", valid)
		assert.Equal(t, 403, w.Code)
		assert.Equal(t, KindForbidden, decodeError(t, w)["kind"])
	})

	t.Run("verifier outage", func(t *testing.T) {
		f.verifier.err = fmt.Errorf("github is down")
		defer func() { f.verifier.err = nil }()
		w := f.do(t, "alice", "POST", "/api/sessions", valid)
		assert.Equal(t, 503, w.Code)
		assert.Equal(t, KindUpstreamUnavailable, decodeError(t, w)["kind"])
	})
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice", store.PhaseExecuting)
	f.seed(t, "alice", store.PhasePaused)
	f.seed(t, "bob", store.PhaseExecuting)

	t.Run("scoped to the caller", func(t *testing.T) {
		w := f.do(t, "alice", "GET", "/api/sessions", nil)
		require.Equal(t, 200, w.Code)

		var sessions []models.Session
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
		assert.Len(t, sessions, 2)
	})

	t.Run("status filter", func(t *testing.T) {
		w := f.do(t, "alice", "GET", "/api/sessions?status=paused", nil)
		require.Equal(t, 200, w.Code)

		var sessions []models.Session
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
		require.Len(t, sessions, 1)
		assert.Equal(t, models.StatusPaused, sessions[0].Status)
	})

	t.Run("unknown status filter", func(t *testing.T) {
		w := f.do(t, "alice", "GET", "/api/sessions?status=hibernating", nil)
		assert.Equal(t, 400, w.Code)
	})

	t.Run("empty result is a JSON array", func(t *testing.T) {
		w := f.do(t, "carol", "GET", "/api/sessions", nil)
		require.Equal(t, 200, w.Code)
		assert.Equal(t, "[]", w.Body.String())
	})

	t.Run("malformed record is skipped", func(t *testing.T) {
		_, err := f.store.Create(context.Background(), "alice", &store.RawSession{
			Phase: store.PhaseExecuting, // no name, no repo
		})
		require.NoError(t, err)

		w := f.do(t, "alice", "GET", "/api/sessions", nil)
		require.Equal(t, 200, w.Code)

		var sessions []models.Session
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
		assert.Len(t, sessions, 2, "the corrupt record must not hide the healthy ones")
	})
}

func TestGetSessionIsOwnerScoped(t *testing.T) {
	f := newFixture(t)
	created := f.seed(t, "alice", store.PhaseExecuting)

	w := f.do(t, "bob", "GET", "/api/sessions/"+created.ID, nil)
	assert.Equal(t, 404, w.Code, "another owner's session must be indistinguishable from absent")
}

func TestUpdateSessionActions(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name       string
		phase      string
		action     string
		wantCode   int
		wantStatus models.Status
	}{
		{"pause running", store.PhaseExecuting, "pause", 200, models.StatusPaused},
		{"resume paused", store.PhasePaused, "resume", 200, models.StatusRunning},
		{"approve review", store.PhaseAwaitingReview, "approve", 200, models.StatusDone},
		{"reject review", store.PhaseAwaitingReview, "reject", 200, models.StatusRunning},

		{"approve running", store.PhaseExecuting, "approve", 409, ""},
		{"approve paused", store.PhasePaused, "approve", 409, ""},
		{"approve completed", store.PhaseCompleted, "approve", 409, ""},
		{"approve failed", store.PhaseFailed, "approve", 409, ""},
		{"pause completed", store.PhaseCompleted, "pause", 409, ""},
		{"resume running", store.PhaseExecuting, "resume", 409, ""},

		{"unknown action", store.PhaseExecuting, "restart", 400, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			created := f.seed(t, "alice", tc.phase)

			w := f.do(t, "alice", "PATCH", "/api/sessions/"+created.ID, gin.H{"action": tc.action})
			require.Equal(t, tc.wantCode, w.Code, w.Body.String())

			if tc.wantCode != 200 {
				kind := decodeError(t, w)["kind"]
				if tc.wantCode == 409 {
					assert.Equal(t, KindConflict, kind)
				} else {
					assert.Equal(t, KindInvalidAction, kind)
				}

				got := f.do(t, "alice", "GET", "/api/sessions/"+created.ID, nil)
				unchanged := decodeSession(t, got)
				assert.Equal(t, 40, unchanged.Progress, "rejected action must not change the record")
				return
			}

			s := decodeSession(t, w)
			assert.Equal(t, tc.wantStatus, s.Status)
		})
	}
}

func TestApproveCompletesTheSession(t *testing.T) {
	f := newFixture(t)
	created := f.seed(t, "alice", store.PhaseAwaitingReview)

	w := f.do(t, "alice", "PATCH", "/api/sessions/"+created.ID, gin.H{"action": "approve"})
	require.Equal(t, 200, w.Code)

	s := decodeSession(t, w)
	assert.Equal(t, models.StatusDone, s.Status)
	assert.Equal(t, 100, s.Progress)
	assert.Nil(t, s.CurrentTask)
	assert.Nil(t, s.ErrorMessage)
}

func TestRejectRecordsFeedback(t *testing.T) {
	f := newFixture(t)
	created := f.seed(t, "alice", store.PhaseAwaitingReview)

	w := f.do(t, "alice", "PATCH", "/api/sessions/"+created.ID, gin.H{
		"action":   "reject",
		"feedback": "please add tests for the edge cases",
	})
	require.Equal(t, 200, w.Code)
	assert.Equal(t, models.StatusRunning, decodeSession(t, w).Status)

	raw, err := f.store.Get(context.Background(), "alice", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "please add tests for the edge cases", raw.ReviewFeedback)
}

func TestUpdateIsOwnerScoped(t *testing.T) {
	f := newFixture(t)
	created := f.seed(t, "alice", store.PhaseExecuting)

	w := f.do(t, "bob", "PATCH", "/api/sessions/"+created.ID, gin.H{"action": "pause"})
	assert.Equal(t, 404, w.Code)
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t)
	created := f.seed(t, "alice", store.PhaseExecuting)

	sub := f.hub.Subscribe("alice")
	defer f.hub.Unsubscribe(sub)

	t.Run("other owners cannot delete", func(t *testing.T) {
		w := f.do(t, "bob", "DELETE", "/api/sessions/"+created.ID, nil)
		assert.Equal(t, 404, w.Code)
	})

	t.Run("owner delete announces removal", func(t *testing.T) {
		w := f.do(t, "alice", "DELETE", "/api/sessions/"+created.ID, nil)
		require.Equal(t, 204, w.Code)

		select {
		case ev := <-sub.Events():
			require.Equal(t, models.EventSessionUpdated, ev.Type)
			payload := ev.Payload.(models.UpdatedPayload)
			assert.True(t, payload.Deleted)
			assert.Equal(t, created.ID, payload.SessionID)
		case <-time.After(time.Second):
			t.Fatal("deletion was not announced")
		}

		got := f.do(t, "alice", "GET", "/api/sessions/"+created.ID, nil)
		assert.Equal(t, 404, got.Code)
	})
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
}
