package models

import "errors"

// Action is the closed vocabulary accepted by session updates. Clients
// never write session fields directly; they request one of these.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionPause   Action = "pause"
	ActionResume  Action = "resume"
)

var (
	// ErrInvalidAction means the action is not in the vocabulary at all.
	ErrInvalidAction = errors.New("invalid action")

	// ErrConflict means the action exists but is not legal from the
	// session's current status.
	ErrConflict = errors.New("action conflicts with current session status")
)

// Transition applies an action to a status and returns the resulting
// status. done and error are terminal; approve/reject are only legal
// from awaiting_review; pause/resume toggle running/paused.
func Transition(current Status, action Action) (Status, error) {
	switch action {
	case ActionPause:
		if current == StatusRunning {
			return StatusPaused, nil
		}
	case ActionResume:
		if current == StatusPaused {
			return StatusRunning, nil
		}
	case ActionApprove:
		if current == StatusAwaitingReview {
			return StatusDone, nil
		}
	case ActionReject:
		if current == StatusAwaitingReview {
			return StatusRunning, nil
		}
	default:
		return "", ErrInvalidAction
	}
	return "", ErrConflict
}
