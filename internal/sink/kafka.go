// Package sink mirrors broadcast events onto a Kafka topic for the
// native push-notification pipeline. Delivery to mobile OSes happens
// downstream; the gateway only publishes. The mirror is best-effort
// like the client stream: it must never block a broadcast.
package sink

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/devpulse-io/devpulse/internal/models"
)

const Topic = "session-events"

type envelope struct {
	Principal string           `json:"principal"`
	Type      models.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   any              `json:"payload"`
}

// KafkaMirror buffers events and writes them from a single background
// goroutine. A full buffer drops the event with a log line.
type KafkaMirror struct {
	writer *kafka.Writer
	queue  chan kafka.Message
}

func NewKafkaMirror(brokers string) *KafkaMirror {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 100 * time.Millisecond,
	}
	return &KafkaMirror{
		writer: writer,
		queue:  make(chan kafka.Message, 256),
	}
}

// Start runs the writer loop until ctx is cancelled.
func (m *KafkaMirror) Start(ctx context.Context) {
	go func() {
		defer m.writer.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-m.queue:
				if err := m.writer.WriteMessages(ctx, msg); err != nil && ctx.Err() == nil {
					log.Printf("❌ push sink write failed: %v", err)
				}
			}
		}
	}()
}

// Mirror implements hub.Mirror. Keyed by principal so one user's
// events stay ordered within a partition.
func (m *KafkaMirror) Mirror(principal string, ev models.Event) {
	data, err := json.Marshal(envelope{
		Principal: principal,
		Type:      ev.Type,
		Timestamp: time.Now().UTC(),
		Payload:   ev.Payload,
	})
	if err != nil {
		log.Printf("❌ failed to marshal sink event: %v", err)
		return
	}

	select {
	case m.queue <- kafka.Message{Key: []byte(principal), Value: data}:
	default:
		log.Printf("⚠️ push sink buffer full, dropping %s event", ev.Type)
	}
}
