package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrAlreadyExists = errors.New("session already exists")
	ErrUnavailable   = errors.New("authoritative store unavailable")
)

// Upstream phase vocabulary written by the workload. This set is not
// closed from the gateway's point of view: new phases can appear on the
// store side before the gateway learns about them, which is why the
// schema transformer maps unknown phases defensively.
const (
	PhaseInitializing   = "initializing"
	PhaseCloning        = "cloning"
	PhaseExecuting      = "executing"
	PhaseResuming       = "resuming"
	PhasePaused         = "paused"
	PhaseAwaitingReview = "awaiting_review"
	PhaseCompleted      = "completed"
	PhaseFailed         = "failed"
	PhaseCancelled      = "cancelled"
)

// Transition records one phase change with its timestamp.
type Transition struct {
	Phase string    `json:"phase"`
	At    time.Time `json:"at"`
}

type RawRepo struct {
	URL       string `json:"url"`
	Branch    string `json:"branch"`
	Connected bool   `json:"connected"`
}

// RawSession is the authoritative record as stored. The workload and
// the gateway both write it; clients never see it directly.
type RawSession struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Owner          string       `json:"owner"`
	Phase          string       `json:"phase"`
	Progress       int          `json:"progress"`
	Model          string       `json:"model"`
	Workflow       string       `json:"workflow"`
	Repo           RawRepo      `json:"repo"`
	CurrentTask    string       `json:"currentTask,omitempty"`
	TasksCompleted []string     `json:"tasksCompleted,omitempty"`
	FailureReason  string       `json:"failureReason,omitempty"`
	ReviewFeedback string       `json:"reviewFeedback,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	Transitions    []Transition `json:"transitions,omitempty"`
}

// Clone returns a deep copy so callers can mutate freely.
func (r *RawSession) Clone() *RawSession {
	cp := *r
	cp.TasksCompleted = append([]string(nil), r.TasksCompleted...)
	cp.Transitions = append([]Transition(nil), r.Transitions...)
	return &cp
}

// Store is the authoritative session store. Every operation takes the
// owner explicitly; implementations must never return another owner's
// records.
type Store interface {
	List(ctx context.Context, owner string) ([]*RawSession, error)
	Get(ctx context.Context, owner, id string) (*RawSession, error)
	Create(ctx context.Context, owner string, raw *RawSession) (*RawSession, error)
	Update(ctx context.Context, owner, id string, mutate func(*RawSession) error) (*RawSession, error)
	Delete(ctx context.Context, owner, id string) error
}

type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// Change is one store-originated state change observed by the watch
// feed. Session is nil for deletes.
type Change struct {
	Type    ChangeType
	ID      string
	Owner   string
	Session *RawSession
}

// Watcher exposes the store's own change feed. The channel closes when
// ctx is cancelled.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}

// WorkloadReleaser stops the in-cluster execution backing a session.
type WorkloadReleaser interface {
	ReleaseWorkload(ctx context.Context, id string) error
}

// Scope is a store handle bound to one principal. It is the only way
// request handling touches the store; there is no way to name another
// owner through it.
type Scope struct {
	owner string
	store Store
}

func NewScope(s Store, owner string) Scope {
	return Scope{owner: owner, store: s}
}

func (s Scope) Owner() string { return s.owner }

func (s Scope) List(ctx context.Context) ([]*RawSession, error) {
	return s.store.List(ctx, s.owner)
}

func (s Scope) Get(ctx context.Context, id string) (*RawSession, error) {
	return s.store.Get(ctx, s.owner, id)
}

func (s Scope) Create(ctx context.Context, raw *RawSession) (*RawSession, error) {
	return s.store.Create(ctx, s.owner, raw)
}

func (s Scope) Update(ctx context.Context, id string, mutate func(*RawSession) error) (*RawSession, error) {
	return s.store.Update(ctx, s.owner, id, mutate)
}

func (s Scope) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, s.owner, id)
}
