// Package intake feeds the queue from notification events published on RabbitMQ.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/jobboard-notify/internal/queue"
	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"
)

const reconnectDelay = 5 * time.Second

// Enqueuer creates queue items.
type Enqueuer interface {
	Enqueue(ctx context.Context, in queue.EnqueueInput) (*queue.Item, error)
}

// Config contains consumer configuration.
type Config struct {
	URL         string
	Queue       string
	ConsumerTag string
	Prefetch    int
}

// Message is the JSON body of an enqueue event.
type Message struct {
	NotificationID string            `json:"notification_id" validate:"required,max=64"`
	Priority       int               `json:"priority" validate:"omitempty,min=1,max=5"`
	ScheduledAt    *time.Time        `json:"scheduled_at"`
	MaxRetries     *int              `json:"max_retries" validate:"omitempty,min=0,max=20"`
	Metadata       map[string]string `json:"metadata"`
}

// Consumer reads enqueue events and turns them into queue items.
// Deliveries are acknowledged only after the item exists.
type Consumer struct {
	config    Config
	enqueuer  Enqueuer
	validator *validator.Validate

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConsumer creates a new consumer.
func NewConsumer(config Config, enqueuer Enqueuer) *Consumer {
	if config.Prefetch <= 0 {
		config.Prefetch = 20
	}
	return &Consumer{
		config:    config,
		enqueuer:  enqueuer,
		validator: validator.New(),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the consume loop. Broker outages are retried until Stop.
func (c *Consumer) Start(ctx context.Context) {
	slog.Info("starting intake consumer", "queue", c.config.Queue, "prefetch", c.config.Prefetch)

	c.wg.Add(1)
	go c.run(ctx)
}

// Stop stops consuming and waits for the in-flight delivery.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	slog.Info("intake consumer stopped")
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		if err := c.consume(ctx); err != nil {
			slog.Error("intake consumer disconnected", "error", err, "retry_in", reconnectDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.config.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.config.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(c.config.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	deliveries, err := ch.Consume(c.config.Queue, c.config.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	slog.Info("intake consumer connected", "queue", c.config.Queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stopCh:
			return nil
		case amqpErr := <-closed:
			return fmt.Errorf("connection closed: %w", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle enqueues one delivery and settles it with the broker. Malformed
// events are rejected without requeue; store errors are requeued.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.reject(d, "invalid json", err)
		return
	}
	if err := c.validator.Struct(msg); err != nil {
		c.reject(d, "invalid message", err)
		return
	}

	_, err := c.enqueuer.Enqueue(ctx, queue.EnqueueInput{
		NotificationID: msg.NotificationID,
		Priority:       msg.Priority,
		ScheduledAt:    msg.ScheduledAt,
		MaxRetries:     msg.MaxRetries,
		Metadata:       msg.Metadata,
	})
	switch {
	case err == nil, errors.Is(err, queue.ErrAlreadyQueued):
		if ackErr := d.Ack(false); ackErr != nil {
			slog.Error("failed to ack delivery", "notification_id", msg.NotificationID, "error", ackErr)
		}
		recordMessage(resultEnqueued)
		slog.Debug("intake event enqueued", "notification_id", msg.NotificationID, "duplicate", err != nil)
	case errors.Is(err, queue.ErrInvalidPriority):
		c.reject(d, "invalid message", err)
	default:
		slog.Warn("enqueue failed, requeueing event", "notification_id", msg.NotificationID, "error", err)
		if nackErr := d.Nack(false, true); nackErr != nil {
			slog.Error("failed to nack delivery", "notification_id", msg.NotificationID, "error", nackErr)
		}
		recordMessage(resultRequeued)
	}
}

func (c *Consumer) reject(d amqp.Delivery, reason string, err error) {
	slog.Warn("rejecting intake event", "reason", reason, "error", err)
	if rejErr := d.Reject(false); rejErr != nil {
		slog.Error("failed to reject delivery", "error", rejErr)
	}
	recordMessage(resultRejected)
}
