package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	appErrors "github.com/unclebandit/crm-campaigns/internal/errors"
	"github.com/unclebandit/crm-campaigns/internal/model"
)

// AMQPQueue publishes delivery jobs to a durable RabbitMQ queue and
// consumes them with a fixed number of workers.
type AMQPQueue struct {
	Name    string
	Workers int

	conn   *amqp.Connection
	ch     *amqp.Channel
	pubMu  sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
	logger *slog.Logger
}

// DialAMQP connects to the broker and declares the queue.
func DialAMQP(url, name string, workers int, logger *slog.Logger) (*AMQPQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}
	if workers < 1 {
		workers = 1
	}
	return &AMQPQueue{Name: name, Workers: workers, conn: conn, ch: ch, logger: logger}, nil
}

func (q *AMQPQueue) Publish(ctx context.Context, job model.DeliveryJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	return q.ch.Publish("", q.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Subscribe starts consuming. Deliveries are acked manually.
func (q *AMQPQueue) Subscribe(ctx context.Context, h Handler) error {
	if q.group != nil {
		return ErrSubscribed
	}
	if err := q.ch.Qos(q.Workers, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	msgs, err := q.ch.Consume(
		q.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	ctx, q.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case d, ok := <-msgs:
					if !ok {
						return nil
					}
					handleDelivery(gctx, d, h, q.logger)
				}
			}
		})
	}
	q.group = g
	return nil
}

// Wait blocks until the consumers stop.
func (q *AMQPQueue) Wait() error {
	if q.group == nil {
		return nil
	}
	return q.group.Wait()
}

func (q *AMQPQueue) Close() error {
	if q.cancel != nil {
		q.cancel()
	}
	werr := q.Wait()
	if err := q.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	if err := q.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return werr
}

// handleDelivery acks processed and malformed jobs. A persistence failure
// is requeued once; the broker marks the second attempt as redelivered.
func handleDelivery(ctx context.Context, d amqp.Delivery, h Handler, logger *slog.Logger) {
	var job model.DeliveryJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		logger.Error("invalid delivery job", "message_id", d.MessageId, "error", err)
		_ = d.Ack(false)
		return
	}

	err := h(ctx, job)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case appErrors.IsPersistence(err) && !d.Redelivered:
		logger.Warn("delivery job failed, requeueing", "communication_log_id", job.CommunicationLogID, "error", err)
		_ = d.Nack(false, true)
	default:
		logger.Error("delivery job dropped", "communication_log_id", job.CommunicationLogID, "error", err)
		_ = d.Nack(false, false)
	}
}

var _ Queue = (*AMQPQueue)(nil)
