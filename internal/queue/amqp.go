package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"

	"astro-bot/pkg/logger"
)

// AMQP is a RabbitMQ-backed Queue. Jobs survive a restart of the bot process
// and may be consumed by a separate worker process.
type AMQP struct {
	conn   *amqp091.Connection
	pubCh  *amqp091.Channel
	pubMu  sync.Mutex
	queue  string
	logger *logger.Logger
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// DialAMQP connects and declares a durable queue named queueName.
func DialAMQP(rawURL, queueName string, l *logger.Logger) (*AMQP, error) {
	cleanURL, err := sanitizeAMQPURL(rawURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // auto-deleted
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	return &AMQP{conn: conn, pubCh: ch, queue: queueName, logger: l}, nil
}

func (a *AMQP) Enqueue(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	a.pubMu.Lock()
	defer a.pubMu.Unlock()

	err = a.pubCh.PublishWithContext(ctx,
		"",      // default exchange
		a.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    job.ID,
			Timestamp:    job.EnqueuedAt,
			Body:         body,
		})
	if err != nil {
		if errors.Is(err, amqp091.ErrClosed) {
			return ErrQueueClosed
		}
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

// Consume runs handler for incoming jobs on workers goroutines until ctx is
// cancelled or the connection drops. Messages are acked once the handler
// returns, whatever its result; undecodable messages are dropped.
func (a *AMQP) Consume(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 3
	}

	ch, err := a.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(workers, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(
		a.queue, // queue
		"",      // consumer
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	a.logger.Infow("Consuming delivery jobs", "queue", a.queue, "workers", workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					a.handle(ctx, id, d, handler)
				}
			}
		}(i)
	}
	wg.Wait()

	return ctx.Err()
}

func (a *AMQP) handle(ctx context.Context, worker int, d amqp091.Delivery, handler Handler) {
	job, err := decodeJob(d.Body)
	if err != nil {
		a.logger.Errorw("Dropping undecodable job", "worker", worker, "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Errorw("Recovered from panic while delivering", "worker", worker, "job_id", job.ID, "panic", r)
			}
		}()
		if err := handler(ctx, job); err != nil {
			a.logger.Errorw("Delivery job failed",
				"worker", worker, "job_id", job.ID, "user_id", job.UserID, "product", job.Product, "error", err)
		}
	}()

	if err := d.Ack(false); err != nil {
		a.logger.Errorw("Failed to ack job", "job_id", job.ID, "error", err)
	}
}

func decodeJob(body []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, err
	}
	if job.UserID == 0 || !job.Product.Valid() {
		return Job{}, fmt.Errorf("invalid job %q: user %d product %q", job.ID, job.UserID, job.Product)
	}
	return job, nil
}

// Close gracefully closes the channel and connection.
func (a *AMQP) Close() {
	if a.pubCh != nil {
		a.pubCh.Close()
	}
	if a.conn != nil {
		a.conn.Close()
	}
}
