package notify

import (
	"strconv"
	"strings"

	"github.com/devpulse-io/devpulse/internal/models"
)

// notificationType folds GitHub's subject type and thread reason into
// the public closed vocabulary.
func notificationType(subjectType, reason string) models.NotificationType {
	if reason == "security_alert" {
		return models.NotificationSecurityAlert
	}
	switch subjectType {
	case "PullRequest":
		if reason == "review_requested" {
			return models.NotificationPullRequestReview
		}
		return models.NotificationPullRequest
	case "Issue":
		switch reason {
		case "mention":
			return models.NotificationMention
		case "comment":
			return models.NotificationIssueComment
		default:
			return models.NotificationIssue
		}
	case "Commit":
		return models.NotificationCommitComment
	case "Release":
		return models.NotificationRelease
	default:
		if reason == "mention" {
			return models.NotificationMention
		}
		return models.NotificationIssue
	}
}

// SuggestWorkflow is the deterministic inference table from item shape
// to the workflow a client should offer: pull requests want review,
// defect issues want bugfix, enhancement issues want plan, everything
// else falls back to chat.
func SuggestWorkflow(t models.NotificationType, labels []string) string {
	switch t {
	case models.NotificationPullRequest, models.NotificationPullRequestReview:
		return "review"
	case models.NotificationIssue, models.NotificationIssueComment:
		for _, l := range labels {
			switch strings.ToLower(l) {
			case "bug", "defect", "regression":
				return "bugfix"
			case "enhancement", "feature":
				return "plan"
			}
		}
	}
	return "chat"
}

// translate maps one thread (plus optional subject detail) onto the
// public Notification shape.
func translate(th thread, detail *subjectDetail) models.Notification {
	t := notificationType(th.Subject.Type, th.Reason)

	var number int
	var author string
	var labels []string
	url := deepLink(th)
	if detail != nil {
		number = detail.Number
		author = detail.User.Login
		labels = detail.labelNames()
		if detail.HTMLURL != "" {
			url = detail.HTMLURL
		}
	}
	if number == 0 {
		number = numberFromURL(th.Subject.URL)
	}

	return models.Notification{
		ID:                th.ID,
		Type:              t,
		Repository:        th.Repository.FullName,
		Number:            number,
		Title:             th.Subject.Title,
		Author:            author,
		Timestamp:         th.UpdatedAt.UTC(),
		Unread:            th.Unread,
		SuggestedWorkflow: SuggestWorkflow(t, labels),
		URL:               url,
	}
}

// deepLink derives a browser URL from the API subject URL when no
// detail fetch supplied one.
func deepLink(th thread) string {
	url := th.Subject.URL
	if url == "" {
		return th.Repository.HTMLURL
	}
	url = strings.Replace(url, "api.github.com/repos/", "github.com/", 1)
	url = strings.Replace(url, "/pulls/", "/pull/", 1)
	url = strings.Replace(url, "/commits/", "/commit/", 1)
	return url
}

func numberFromURL(url string) int {
	if url == "" {
		return 0
	}
	parts := strings.Split(strings.TrimSuffix(url, "/"), "/")
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0
	}
	return n
}
