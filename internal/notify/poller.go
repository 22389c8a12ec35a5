package notify

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/devpulse-io/devpulse/internal/models"
)

// DefaultPollInterval is how often the external feed is polled per
// principal with a live subscription.
const DefaultPollInterval = 5 * time.Minute

// Broadcaster is the slice of the event gateway the poller needs.
type Broadcaster interface {
	Principals() []string
	Broadcast(principal string, ev models.Event)
}

// Poller periodically refreshes notifications for every principal that
// currently has a subscription and broadcasts anything new.
type Poller struct {
	service  *Service
	hub      Broadcaster
	interval time.Duration
}

func NewPoller(service *Service, hub Broadcaster, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{service: service, hub: hub, interval: interval}
}

func (p *Poller) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.poll(ctx)
			}
		}
	}()
}

func (p *Poller) poll(ctx context.Context) {
	for _, principal := range p.hub.Principals() {
		added, err := p.service.Refresh(ctx, principal)
		if err != nil {
			if !errors.Is(err, ErrNoToken) {
				log.Printf("notification refresh for %s failed: %v", principal, err)
			}
			continue
		}
		for _, n := range added {
			p.hub.Broadcast(principal, models.NotificationNewEvent(n))
		}
	}
}
