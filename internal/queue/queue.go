package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	appErrors "github.com/unclebandit/crm-campaigns/internal/errors"
	"github.com/unclebandit/crm-campaigns/internal/model"
)

// Handler processes one delivery job. A *appErrors.PersistenceError is
// retried; any other error is logged and the job is dropped.
type Handler func(ctx context.Context, job model.DeliveryJob) error

// Queue carries delivery jobs from the dispatcher to the vendor client.
type Queue interface {
	Publish(ctx context.Context, job model.DeliveryJob) error
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

var (
	ErrClosed     = errors.New("queue: closed")
	ErrSubscribed = errors.New("queue: handler already subscribed")
)

const DefaultMaxRetries = 3

// InMemoryQueue is a bounded worker pool over a buffered channel.
// Publish blocks while the buffer is full.
type InMemoryQueue struct {
	Workers    int
	MaxRetries int
	Backoff    time.Duration

	jobs     chan model.DeliveryJob
	done     chan struct{}
	doneOnce sync.Once
	mu       sync.RWMutex
	closed   bool
	group    *errgroup.Group
	logger   *slog.Logger
}

// NewInMemoryQueue creates a queue with the given number of workers and
// buffer size.
func NewInMemoryQueue(workers, size int, logger *slog.Logger) *InMemoryQueue {
	if workers < 1 {
		workers = 1
	}
	if size < 0 {
		size = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryQueue{
		Workers:    workers,
		MaxRetries: DefaultMaxRetries,
		Backoff:    500 * time.Millisecond,
		jobs:       make(chan model.DeliveryJob, size),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (q *InMemoryQueue) Publish(ctx context.Context, job model.DeliveryJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe starts the workers. It returns immediately.
func (q *InMemoryQueue) Subscribe(ctx context.Context, h Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.group != nil {
		return ErrSubscribed
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.Workers; i++ {
		g.Go(func() error {
			for job := range q.jobs {
				q.process(gctx, h, job)
			}
			return nil
		})
	}
	q.group = g
	return nil
}

// Close stops accepting jobs, lets the workers drain what is buffered and
// waits for them.
func (q *InMemoryQueue) Close() error {
	q.doneOnce.Do(func() { close(q.done) })
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	g := q.group
	q.mu.Unlock()

	if g == nil {
		return nil
	}
	return g.Wait()
}

// process handles retries with linear backoff.
func (q *InMemoryQueue) process(ctx context.Context, h Handler, job model.DeliveryJob) {
	for attempt := 1; ; attempt++ {
		err := h(ctx, job)
		if err == nil {
			return
		}
		if !appErrors.IsPersistence(err) || attempt > q.MaxRetries {
			q.logger.Error("delivery job dropped",
				"communication_log_id", job.CommunicationLogID, "attempts", attempt, "error", err)
			return
		}
		q.logger.Warn("delivery job failed, retrying",
			"communication_log_id", job.CommunicationLogID, "attempt", attempt, "error", err)

		select {
		case <-time.After(time.Duration(attempt) * q.Backoff):
		case <-ctx.Done():
			return
		}
	}
}

var _ Queue = (*InMemoryQueue)(nil)
