package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "sessions"
	ExchangeType = "topic"
	QueueStatus  = "gateway.session.status"
	RoutingKey   = "status.updated"
)

// StatusMessage is what workloads publish after writing a state change
// to the store. It names the session; the bridge re-reads the record.
type StatusMessage struct {
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   struct {
		SessionID string `json:"session_id"`
		Owner     string `json:"owner"`
		Phase     string `json:"phase"`
		Message   string `json:"message"`
	} `json:"payload"`
}

// StatusHandler receives validated workload status updates.
type StatusHandler interface {
	HandleStatusUpdate(ctx context.Context, sessionID, owner string)
}

// Consumer subscribes to the workload status exchange.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	handler StatusHandler
}

func NewConsumer(rabbitURL string, handler StatusHandler) (*Consumer, error) {
	conn, err := amqp.Dial(rabbitURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName,
		ExchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		QueueStatus,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(QueueStatus, RoutingKey, ExchangeName, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	return &Consumer{conn: conn, channel: ch, handler: handler}, nil
}

func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		QueueStatus,
		"devpulse-gateway", // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	log.Println("🚀 workload status consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			if err := c.handleMessage(ctx, msg.Body); err != nil {
				log.Printf("❌ rejecting status message: %v", err)
				msg.Nack(false, false) // don't requeue bad messages
				continue
			}
			msg.Ack(false)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, body []byte) error {
	var event StatusMessage
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("failed to unmarshal status message: %w", err)
	}
	if event.Payload.SessionID == "" || event.Payload.Owner == "" {
		return fmt.Errorf("status message missing session id or owner")
	}

	c.handler.HandleStatusUpdate(ctx, event.Payload.SessionID, event.Payload.Owner)
	return nil
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
