package models

import "time"

// NotificationType mirrors the external source's subject kinds as a
// closed lowercase vocabulary.
type NotificationType string

const (
	NotificationPullRequest       NotificationType = "pull_request"
	NotificationPullRequestReview NotificationType = "pull_request_review"
	NotificationIssue             NotificationType = "issue"
	NotificationIssueComment      NotificationType = "issue_comment"
	NotificationCommitComment     NotificationType = "commit_comment"
	NotificationMention           NotificationType = "mention"
	NotificationRelease           NotificationType = "release"
	NotificationSecurityAlert     NotificationType = "security_alert"
)

// Notification is the public representation of one item from the
// external notification feed. The gateway never owns these; the
// external source stays authoritative.
type Notification struct {
	ID                string           `json:"id"`
	Type              NotificationType `json:"type"`
	Repository        string           `json:"repository"` // owner/repo
	Number            int              `json:"number"`
	Title             string           `json:"title"`
	Author            string           `json:"author"`
	Timestamp         time.Time        `json:"timestamp"`
	Unread            bool             `json:"unread"`
	SuggestedWorkflow string           `json:"suggestedWorkflow"`
	URL               string           `json:"url"`
}
