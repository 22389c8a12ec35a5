// Package feed turns upstream state changes (store watch events and
// workload status messages) into event-gateway broadcasts.
package feed

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/devpulse-io/devpulse/internal/models"
	"github.com/devpulse-io/devpulse/internal/schema"
	"github.com/devpulse-io/devpulse/internal/store"
)

// Broadcaster is the slice of the event gateway the bridge needs.
type Broadcaster interface {
	Broadcast(principal string, ev models.Event)
}

type snapshot struct {
	status    models.Status
	progress  int
	updatedAt time.Time
}

// Bridge turns session state changes into broadcasts. All producers
// (the directory API after a mutation, the store watch feed, the
// workload status consumer) dispatch through the same per-session
// snapshot, so a change observed twice produces one event, and each
// change produces the minimal event kind: status when the status moved,
// progress when only progress moved, a full updated event otherwise.
type Bridge struct {
	store   store.Store
	watcher store.Watcher
	hub     Broadcaster

	mu   sync.Mutex
	last map[string]snapshot
}

func NewBridge(s store.Store, w store.Watcher, hub Broadcaster) *Bridge {
	return &Bridge{
		store:   s,
		watcher: w,
		hub:     hub,
		last:    make(map[string]snapshot),
	}
}

// Run consumes the store's change feed until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	ch, err := b.watcher.Watch(ctx)
	if err != nil {
		return err
	}
	log.Println("🔭 session change feed started")
	for change := range ch {
		b.handleChange(change)
	}
	return ctx.Err()
}

func (b *Bridge) handleChange(change store.Change) {
	if change.Type == store.ChangeDeleted {
		b.mu.Lock()
		_, seen := b.last[change.ID]
		delete(b.last, change.ID)
		b.mu.Unlock()
		// unseen means the delete was already dispatched by the API,
		// or predates this gateway instance; either way nothing to say
		if seen {
			b.hub.Broadcast(change.Owner, models.DeletedEvent(change.ID))
		}
		return
	}

	session, err := schema.ToPublicSession(change.Session)
	if err != nil {
		log.Printf("skipping change for session %s: %v", change.ID, err)
		return
	}
	b.Dispatch(change.Owner, session)
}

// HandleStatusUpdate implements the workload status feed: the message
// only names the session, the record is re-read so the broadcast always
// reflects authoritative state.
func (b *Bridge) HandleStatusUpdate(ctx context.Context, sessionID, owner string) {
	raw, err := b.store.Get(ctx, owner, sessionID)
	if err != nil {
		log.Printf("status update for unknown session %s: %v", sessionID, err)
		return
	}
	session, err := schema.ToPublicSession(raw)
	if err != nil {
		log.Printf("skipping status update for session %s: %v", sessionID, err)
		return
	}
	b.Dispatch(owner, session)
}

// Dispatch broadcasts the right event for the session's current state
// relative to the last state this bridge saw.
func (b *Bridge) Dispatch(owner string, s *models.Session) {
	b.mu.Lock()
	prev, seen := b.last[s.ID]
	b.last[s.ID] = snapshot{status: s.Status, progress: s.Progress, updatedAt: s.UpdatedAt}
	b.mu.Unlock()

	if !seen {
		b.hub.Broadcast(owner, models.UpdatedEvent(s))
		return
	}

	// two feeds can observe the same change; second sighting is a no-op
	if prev.status == s.Status && prev.progress == s.Progress && prev.updatedAt.Equal(s.UpdatedAt) {
		return
	}

	switch {
	case prev.status != s.Status:
		b.hub.Broadcast(owner, models.StatusEvent(s.ID, s.Status, s.ErrorMessage))
	case prev.progress != s.Progress:
		if s.Status == models.StatusRunning && s.Progress < prev.progress {
			log.Printf("⚠️ session %s progress went backwards (%d -> %d), upstream bug", s.ID, prev.progress, s.Progress)
		}
		b.hub.Broadcast(owner, models.ProgressEvent(s.ID, s.Progress, s.CurrentTask))
	default:
		b.hub.Broadcast(owner, models.UpdatedEvent(s))
	}
}

// DispatchDeleted broadcasts removal after an API-initiated delete.
func (b *Bridge) DispatchDeleted(owner, id string) {
	b.mu.Lock()
	delete(b.last, id)
	b.mu.Unlock()
	b.hub.Broadcast(owner, models.DeletedEvent(id))
}
