package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devpulse-io/devpulse/internal/models"
)

// ErrNoToken means the principal has no GitHub credential attached, so
// the notification mirror cannot act for them.
var ErrNoToken = errors.New("no github credential for principal")

// DefaultCacheTTL bounds how stale the notification mirror may get; a
// cache older than this is refetched, never trusted.
const DefaultCacheTTL = 30 * time.Minute

// Service is the notification translator: a read-through, time-bounded
// cache over the external feed. GitHub stays authoritative; the only
// state here is the cache and a principal→token registry fed by active
// subscriptions.
type Service struct {
	client *Client
	cache  *redis.Client
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

func NewService(client *Client, cache *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{
		client: client,
		cache:  cache,
		ttl:    ttl,
		tokens: make(map[string]string),
	}
}

// RememberToken records the principal's GitHub token for background
// polling. Called whenever an authenticated request carries one.
func (s *Service) RememberToken(principalID, token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	s.tokens[principalID] = token
	s.mu.Unlock()
}

func (s *Service) token(principalID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[principalID]
	if !ok {
		return "", ErrNoToken
	}
	return token, nil
}

func cacheKey(principalID string) string {
	return "notifications:" + principalID
}

// List returns the principal's notifications, newest state within the
// cache TTL. unreadOnly filters after the cache so both variants share
// one entry.
func (s *Service) List(ctx context.Context, principalID, token string, unreadOnly bool) ([]models.Notification, error) {
	if token == "" {
		var err error
		token, err = s.token(principalID)
		if err != nil {
			return nil, err
		}
	}
	s.RememberToken(principalID, token)

	all, ok := s.cached(ctx, principalID)
	if !ok {
		var err error
		all, err = s.fetch(ctx, token)
		if err != nil {
			return nil, err
		}
		s.store(ctx, principalID, all)
	}

	if !unreadOnly {
		return all, nil
	}
	unread := make([]models.Notification, 0, len(all))
	for _, n := range all {
		if n.Unread {
			unread = append(unread, n)
		}
	}
	return unread, nil
}

// Refresh bypasses the cache, stores the fresh result, and returns
// notifications that are unread and were not present before. The
// poller broadcasts these as notification.new events.
func (s *Service) Refresh(ctx context.Context, principalID string) ([]models.Notification, error) {
	token, err := s.token(principalID)
	if err != nil {
		return nil, err
	}

	previous, _ := s.cached(ctx, principalID)
	known := make(map[string]bool, len(previous))
	for _, n := range previous {
		known[n.ID] = true
	}

	fresh, err := s.fetch(ctx, token)
	if err != nil {
		return nil, err
	}
	s.store(ctx, principalID, fresh)

	var added []models.Notification
	for _, n := range fresh {
		if n.Unread && !known[n.ID] {
			added = append(added, n)
		}
	}
	return added, nil
}

// MarkRead passes the write through to GitHub and invalidates the
// cache so the next read reflects it.
func (s *Service) MarkRead(ctx context.Context, principalID, token, threadID string) error {
	if token == "" {
		var err error
		token, err = s.token(principalID)
		if err != nil {
			return err
		}
	}
	if err := s.client.MarkThreadRead(ctx, token, threadID); err != nil {
		return err
	}
	s.invalidate(ctx, principalID)
	return nil
}

// Mute passes the thread mute through to GitHub.
func (s *Service) Mute(ctx context.Context, principalID, token, threadID string) error {
	if token == "" {
		var err error
		token, err = s.token(principalID)
		if err != nil {
			return err
		}
	}
	return s.client.MuteThread(ctx, token, threadID)
}

func (s *Service) fetch(ctx context.Context, token string) ([]models.Notification, error) {
	threads, err := s.client.ListThreads(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("notification fetch failed: %w", err)
	}

	out := make([]models.Notification, 0, len(threads))
	for _, th := range threads {
		var detail *subjectDetail
		if th.Subject.URL != "" && (th.Subject.Type == "Issue" || th.Subject.Type == "PullRequest") {
			detail, err = s.client.fetchSubject(ctx, token, th.Subject.URL)
			if err != nil {
				// translation still works without the detail record
				log.Printf("subject fetch for thread %s failed: %v", th.ID, err)
				detail = nil
			}
		}
		out = append(out, translate(th, detail))
	}
	return out, nil
}

func (s *Service) cached(ctx context.Context, principalID string) ([]models.Notification, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(ctx, cacheKey(principalID)).Bytes()
	if err != nil {
		return nil, false
	}
	var out []models.Notification
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (s *Service) store(ctx context.Context, principalID string, notifications []models.Notification) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(notifications)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(principalID), data, s.ttl).Err(); err != nil {
		log.Printf("notification cache write failed: %v", err)
	}
}

func (s *Service) invalidate(ctx context.Context, principalID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKey(principalID)).Err(); err != nil {
		log.Printf("notification cache invalidation failed: %v", err)
	}
}
