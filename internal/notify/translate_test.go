package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/devpulse-io/devpulse/internal/models"
)

func TestNotificationType(t *testing.T) {
	cases := []struct {
		subject string
		reason  string
		want    models.NotificationType
	}{
		{"PullRequest", "review_requested", models.NotificationPullRequestReview},
		{"PullRequest", "subscribed", models.NotificationPullRequest},
		{"Issue", "mention", models.NotificationMention},
		{"Issue", "comment", models.NotificationIssueComment},
		{"Issue", "subscribed", models.NotificationIssue},
		{"Commit", "comment", models.NotificationCommitComment},
		{"Release", "subscribed", models.NotificationRelease},
		{"RepositoryVulnerabilityAlert", "security_alert", models.NotificationSecurityAlert},
		{"Discussion", "mention", models.NotificationMention},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, notificationType(tc.subject, tc.reason),
			"subject=%s reason=%s", tc.subject, tc.reason)
	}
}

func TestSuggestWorkflow(t *testing.T) {
	cases := []struct {
		name   string
		t      models.NotificationType
		labels []string
		want   string
	}{
		{"pull request wants review", models.NotificationPullRequest, nil, "review"},
		{"review request wants review", models.NotificationPullRequestReview, nil, "review"},
		{"bug issue wants bugfix", models.NotificationIssue, []string{"bug"}, "bugfix"},
		{"defect issue wants bugfix", models.NotificationIssue, []string{"triage", "Defect"}, "bugfix"},
		{"regression comment wants bugfix", models.NotificationIssueComment, []string{"regression"}, "bugfix"},
		{"enhancement issue wants plan", models.NotificationIssue, []string{"enhancement"}, "plan"},
		{"feature issue wants plan", models.NotificationIssue, []string{"Feature"}, "plan"},
		{"unlabeled issue falls back to chat", models.NotificationIssue, nil, "chat"},
		{"release falls back to chat", models.NotificationRelease, nil, "chat"},
		{"mention falls back to chat", models.NotificationMention, nil, "chat"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SuggestWorkflow(tc.t, tc.labels))
		})
	}
}

func TestTranslate(t *testing.T) {
	updated := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	th := thread{
		ID:        "thread-7",
		Unread:    true,
		Reason:    "review_requested",
		UpdatedAt: updated,
	}
	th.Subject.Title = "Add rate limiting"
	th.Subject.Type = "PullRequest"
	th.Subject.URL = "https://api.github.com/repos/acme/widgets/pulls/88"
	th.Repository.FullName = "acme/widgets"

	detail := &subjectDetail{Number: 88, HTMLURL: "https://github.com/acme/widgets/pull/88"}
	detail.User.Login = "octocat"

	n := translate(th, detail)
	assert.Equal(t, "thread-7", n.ID)
	assert.Equal(t, models.NotificationPullRequestReview, n.Type)
	assert.Equal(t, "acme/widgets", n.Repository)
	assert.Equal(t, 88, n.Number)
	assert.Equal(t, "octocat", n.Author)
	assert.Equal(t, "review", n.SuggestedWorkflow)
	assert.Equal(t, "https://github.com/acme/widgets/pull/88", n.URL)
	assert.True(t, n.Unread)
	assert.Equal(t, updated, n.Timestamp)
}

func TestTranslateWithoutDetail(t *testing.T) {
	th := thread{ID: "thread-8", Reason: "subscribed", UpdatedAt: time.Now()}
	th.Subject.Title = "Crash on startup"
	th.Subject.Type = "Issue"
	th.Subject.URL = "https://api.github.com/repos/acme/widgets/issues/12"
	th.Repository.FullName = "acme/widgets"

	n := translate(th, nil)
	assert.Equal(t, 12, n.Number, "number recovered from the subject URL")
	assert.Equal(t, "https://github.com/acme/widgets/issues/12", n.URL)
	assert.Equal(t, "chat", n.SuggestedWorkflow, "no labels known without the detail record")
}
