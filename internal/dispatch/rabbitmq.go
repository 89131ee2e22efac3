package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/paperforge/pkg/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

// jobMessage is the body of a queued job.
type jobMessage struct {
	JobID uuid.UUID `json:"job_id"`
}

// Dial connects to RabbitMQ and verifies a channel can be opened.
func Dial(ctx context.Context, url string) (*amqp.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	_ = ch.Close()
	return conn, nil
}

func declareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	return err
}

// Publisher enqueues jobs as persistent messages on a durable queue.
type Publisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewPublisher(conn *amqp.Connection, queueName string) *Publisher {
	return &Publisher{conn: conn, queueName: queueName}
}

// Enqueue publishes the job id. It matches store.EnqueueFunc.
func (p *Publisher) Enqueue(ctx context.Context, job *models.GenerationJob) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}
	defer ch.Close()

	if err := declareQueue(ch, p.queueName); err != nil {
		return fmt.Errorf("declare queue %s: %w", p.queueName, err)
	}

	payload, err := json.Marshal(jobMessage{JobID: job.ID})
	if err != nil {
		return fmt.Errorf("marshal job message: %w", err)
	}

	if err := ch.PublishWithContext(ctx, "", p.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID.String(),
		Timestamp:    time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("publish job %s: %w", job.ID, err)
	}
	return nil
}

// Consumer pulls job messages and runs them with at most concurrency jobs in
// flight. Messages are acked on receipt, so a crash mid-run does not redeliver.
type Consumer struct {
	conn        *amqp.Connection
	queueName   string
	concurrency int
	handler     Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConsumer(conn *amqp.Connection, queueName string, concurrency int, handler Handler) *Consumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Consumer{
		conn:        conn,
		queueName:   queueName,
		concurrency: concurrency,
		handler:     handler,
	}
}

// Start declares the queue and begins consuming in the background.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cancel != nil {
		return nil
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	if err := declareQueue(ch, c.queueName); err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare queue %s: %w", c.queueName, err)
	}
	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set consumer qos: %w", err)
	}

	deliveries, err := ch.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume queue %s: %w", c.queueName, err)
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	slots := make(chan struct{}, c.concurrency)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-consumerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				var msg jobMessage
				if err := json.Unmarshal(d.Body, &msg); err != nil || msg.JobID == uuid.Nil {
					slog.Warn("dropping malformed job message", "message_id", d.MessageId, "error", err)
					_ = d.Nack(false, false)
					continue
				}
				if err := d.Ack(false); err != nil {
					slog.Warn("failed to ack job message", "job_id", msg.JobID, "error", err)
				}

				slots <- struct{}{}
				c.wg.Add(1)
				go func(jobID uuid.UUID) {
					defer c.wg.Done()
					defer func() { <-slots }()
					defer func() {
						if rec := recover(); rec != nil {
							slog.Error("dispatch handler panicked", "job_id", jobID, "panic", fmt.Sprint(rec))
						}
					}()
					c.handler(consumerCtx, jobID)
				}(msg.JobID)
			}
		}
	}()

	slog.Info("dispatch consumer started", "queue", c.queueName, "concurrency", c.concurrency)
	return nil
}

// Close stops consuming and waits for running jobs.
func (c *Consumer) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}
