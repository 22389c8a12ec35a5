package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a thread-safe, in-process implementation of Store
// and Watcher. It backs local development and tests; production runs
// against the Kubernetes store.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*RawSession
	watchers []chan Change
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*RawSession)}
}

func (s *InMemoryStore) List(ctx context.Context, owner string) ([]*RawSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*RawSession
	for _, raw := range s.sessions {
		if raw.Owner == owner {
			out = append(out, raw.Clone())
		}
	}
	return out, nil
}

func (s *InMemoryStore) Get(ctx context.Context, owner, id string) (*RawSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.sessions[id]
	if !ok || raw.Owner != owner {
		return nil, ErrNotFound
	}
	return raw.Clone(), nil
}

func (s *InMemoryStore) Create(ctx context.Context, owner string, raw *RawSession) (*RawSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := raw.Clone()
	if cp.ID == "" {
		cp.ID = fmt.Sprintf("sess-%.8s", uuid.New().String())
	}
	if _, exists := s.sessions[cp.ID]; exists {
		return nil, ErrAlreadyExists
	}
	cp.Owner = owner
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.sessions[cp.ID] = cp

	s.notify(Change{Type: ChangeAdded, ID: cp.ID, Owner: owner, Session: cp.Clone()})
	return cp.Clone(), nil
}

func (s *InMemoryStore) Update(ctx context.Context, owner, id string, mutate func(*RawSession) error) (*RawSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.sessions[id]
	if !ok || raw.Owner != owner {
		return nil, ErrNotFound
	}

	cp := raw.Clone()
	if err := mutate(cp); err != nil {
		return nil, err
	}
	cp.ID = id
	cp.Owner = owner
	s.sessions[id] = cp

	s.notify(Change{Type: ChangeModified, ID: id, Owner: owner, Session: cp.Clone()})
	return cp.Clone(), nil
}

func (s *InMemoryStore) Delete(ctx context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.sessions[id]
	if !ok || raw.Owner != owner {
		return ErrNotFound
	}
	delete(s.sessions, id)

	s.notify(Change{Type: ChangeDeleted, ID: id, Owner: owner})
	return nil
}

// Watch returns a feed of every change in the store. Used by the event
// bridge, which fans changes out per owner.
func (s *InMemoryStore) Watch(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, 64)

	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		for i, w := range s.watchers {
			if w == ch {
				s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// ReleaseWorkload is a no-op for the in-memory store; there is no
// cluster workload behind it.
func (s *InMemoryStore) ReleaseWorkload(ctx context.Context, id string) error {
	return nil
}

// notify is called with s.mu held.
func (s *InMemoryStore) notify(change Change) {
	for _, ch := range s.watchers {
		select {
		case ch <- change:
		default:
			// watcher is not keeping up; it re-syncs via list
		}
	}
}
