package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/gin-gonic/gin"

	"github.com/devpulse-io/devpulse/internal/models"
)

// StreamEvents serves GET /api/events: authenticate once, register a
// subscription, then block on queue-or-timer until the client goes
// away. Connection closure is the only cancellation signal; it
// unblocks the select, unsubscribes and ends the worker.
func (h *Handler) StreamEvents(c *gin.Context) {
	principal, _, ok := h.authorize(c)
	if !ok {
		return
	}

	sub := h.hub.Subscribe(principal.ID)
	defer h.hub.Unsubscribe(sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	// opening comment confirms the stream before any event arrives
	fmt.Fprintf(c.Writer, ": connected %s\n\n", sub.ID)
	c.Writer.Flush()

	log.Printf("🔌 client %s connected to event stream for %s", sub.ID, principal.ID)
	defer log.Printf("🔌 client %s disconnected", sub.ID)

	heartbeat := h.newHeartbeat()
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := writeEvent(c.Writer, ev); err != nil {
				return
			}
			c.Writer.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func writeEvent(w io.Writer, ev models.Event) error {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		log.Printf("❌ failed to marshal %s event payload: %v", ev.Type, err)
		return nil
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
