package models

import (
	"regexp"
	"time"
)

// Status is the public session status vocabulary. It is a closed set;
// nothing else ever crosses the wire.
type Status string

const (
	StatusRunning        Status = "running"
	StatusPaused         Status = "paused"
	StatusDone           Status = "done"
	StatusAwaitingReview Status = "awaiting_review"
	StatusError          Status = "error"
)

// ValidStatus reports whether s is one of the five public statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusRunning, StatusPaused, StatusDone, StatusAwaitingReview, StatusError:
		return true
	}
	return false
}

// SupportedModels is the closed set of model selectors accepted at
// session creation.
var SupportedModels = map[string]bool{
	"sonnet-4.5": true,
	"opus-4.1":   true,
	"haiku-4.5":  true,
}

// KnownWorkflows is the set of workflow types a session may be created
// with. It matches the suggested-workflow vocabulary used for
// notifications.
var KnownWorkflows = map[string]bool{
	"chat":   true,
	"plan":   true,
	"review": true,
	"bugfix": true,
}

var nameSlugRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,38}[a-z0-9])?$`)

// ValidName reports whether name satisfies the display-name slug format.
func ValidName(name string) bool {
	return nameSlugRe.MatchString(name)
}

// Repository is the public repository reference carried by a session.
// The URL is the canonical identity; ID is derived from it.
type Repository struct {
	ID        string `json:"id"`
	Name      string `json:"name"` // owner/repo
	URL       string `json:"url"`
	Branch    string `json:"branch"`
	Connected bool   `json:"connected"`
}

// Session is the stable public representation served to clients.
type Session struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Status         Status     `json:"status"`
	Progress       int        `json:"progress"`
	Model          string     `json:"model"`
	Workflow       string     `json:"workflow"`
	Repository     Repository `json:"repository"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	CurrentTask    *string    `json:"currentTask"`
	TasksCompleted []string   `json:"tasksCompleted"`

	// ErrorMessage is non-nil exactly when Status is "error".
	ErrorMessage *string `json:"errorMessage"`
}
