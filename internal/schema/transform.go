// Package schema maps authoritative session records onto the stable
// public representation. It is pure transformation: no I/O, no state.
package schema

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"strings"

	"github.com/devpulse-io/devpulse/internal/models"
	"github.com/devpulse-io/devpulse/internal/store"
)

// ErrMalformedRecord means the upstream record is missing required
// fields or carries values the public schema cannot represent.
var ErrMalformedRecord = errors.New("malformed upstream record")

// phaseTable is the exhaustive upstream-phase to public-status mapping.
// Anything not listed here is treated as an error status at the
// boundary; see ToPublicSession.
var phaseTable = map[string]models.Status{
	store.PhaseInitializing:   models.StatusRunning,
	store.PhaseCloning:        models.StatusRunning,
	store.PhaseExecuting:      models.StatusRunning,
	store.PhaseResuming:       models.StatusRunning,
	store.PhasePaused:         models.StatusPaused,
	store.PhaseAwaitingReview: models.StatusAwaitingReview,
	store.PhaseCompleted:      models.StatusDone,
	store.PhaseFailed:         models.StatusError,
	store.PhaseCancelled:      models.StatusError,
}

// ToPublicSession converts a raw record into the public Session. It
// never panics on missing optional fields; missing required fields
// return ErrMalformedRecord. The status/errorMessage pairing invariant
// is enforced here, not assumed from the store.
func ToPublicSession(raw *store.RawSession) (*models.Session, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: nil record", ErrMalformedRecord)
	}
	if raw.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedRecord)
	}
	if raw.Name == "" {
		return nil, fmt.Errorf("%w: record %s has no name", ErrMalformedRecord, raw.ID)
	}
	if raw.Repo.URL == "" {
		return nil, fmt.Errorf("%w: record %s has no repository URL", ErrMalformedRecord, raw.ID)
	}
	if raw.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: record %s has no creation timestamp", ErrMalformedRecord, raw.ID)
	}

	status, errorMessage := mapPhase(raw)

	progress := raw.Progress
	if progress < 0 || progress > 100 {
		log.Printf("session %s has out-of-range progress %d, clamping", raw.ID, progress)
		if progress < 0 {
			progress = 0
		} else {
			progress = 100
		}
	}

	var currentTask *string
	if raw.CurrentTask != "" {
		task := raw.CurrentTask
		currentTask = &task
	}

	tasks := raw.TasksCompleted
	if tasks == nil {
		tasks = []string{}
	}

	updatedAt := raw.CreatedAt
	for _, tr := range raw.Transitions {
		if tr.At.After(updatedAt) {
			updatedAt = tr.At
		}
	}

	return &models.Session{
		ID:             raw.ID,
		Name:           raw.Name,
		Status:         status,
		Progress:       progress,
		Model:          raw.Model,
		Workflow:       raw.Workflow,
		Repository:     publicRepo(raw.Repo),
		CreatedAt:      raw.CreatedAt.UTC(),
		UpdatedAt:      updatedAt.UTC(),
		CurrentTask:    currentTask,
		TasksCompleted: tasks,
		ErrorMessage:   errorMessage,
	}, nil
}

// mapPhase resolves the public status and its paired error message.
// The message is non-nil exactly when the status is error.
func mapPhase(raw *store.RawSession) (models.Status, *string) {
	status, known := phaseTable[raw.Phase]
	if !known {
		msg := fmt.Sprintf("unrecognized upstream phase %q", raw.Phase)
		log.Printf("session %s: %s", raw.ID, msg)
		return models.StatusError, &msg
	}
	if status != models.StatusError {
		return status, nil
	}

	msg := raw.FailureReason
	if msg == "" {
		switch raw.Phase {
		case store.PhaseCancelled:
			msg = "session cancelled"
		default:
			msg = "session failed"
		}
	}
	return models.StatusError, &msg
}

// StatusForPhase maps an upstream phase onto its public status.
// Unknown phases map to error, consistent with ToPublicSession.
func StatusForPhase(phase string) models.Status {
	if s, ok := phaseTable[phase]; ok {
		return s
	}
	return models.StatusError
}

// PhaseForStatus maps an action-produced public status back onto the
// phase the gateway writes to the store. Only statuses reachable via
// the action vocabulary appear here.
func PhaseForStatus(status models.Status) string {
	switch status {
	case models.StatusPaused:
		return store.PhasePaused
	case models.StatusRunning:
		return store.PhaseExecuting
	case models.StatusDone:
		return store.PhaseCompleted
	case models.StatusAwaitingReview:
		return store.PhaseAwaitingReview
	default:
		return store.PhaseFailed
	}
}

// RepositoryID derives the stable internal id from the canonical
// repository URL. The same URL always hashes to the same id.
func RepositoryID(url string) string {
	h := fnv.New64a()
	h.Write([]byte(normalizeRepoURL(url)))
	return fmt.Sprintf("repo-%x", h.Sum64())
}

// RepositoryName extracts the owner/repo display form from the URL.
func RepositoryName(url string) string {
	trimmed := normalizeRepoURL(url)
	if i := strings.Index(trimmed, "://"); i != -1 {
		trimmed = trimmed[i+3:]
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 3 {
		return parts[len(parts)-2] + "/" + parts[len(parts)-1]
	}
	return trimmed
}

func normalizeRepoURL(url string) string {
	url = strings.TrimSpace(url)
	url = strings.TrimSuffix(url, "/")
	url = strings.TrimSuffix(url, ".git")
	return url
}

func publicRepo(repo store.RawRepo) models.Repository {
	return models.Repository{
		ID:        RepositoryID(repo.URL),
		Name:      RepositoryName(repo.URL),
		URL:       repo.URL,
		Branch:    repo.Branch,
		Connected: repo.Connected,
	}
}
