package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unclebandit/padaria-campaigns/internal/logger"
)

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
	Close() error
}

// InMemoryQueue delivers to local subscribers with retry, for tests and single-process setups.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error
	log      logger.Logger
	backoff  time.Duration
	wg       sync.WaitGroup
	closed   chan struct{}
	once     sync.Once
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log logger.Logger) *InMemoryQueue {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &InMemoryQueue{
		handlers: make(map[string][]func(payload any) error),
		log:      log,
		backoff:  500 * time.Millisecond,
		closed:   make(chan struct{}),
	}
}

// WithBackoff sets the base retry delay; attempt n waits n times this long.
func (q *InMemoryQueue) WithBackoff(d time.Duration) *InMemoryQueue {
	q.backoff = d
	return q
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Topic      string
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	select {
	case <-q.closed:
		return fmt.Errorf("queue closed")
	default:
	}

	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		job := JobPayload{Topic: topic, Payload: payload, MaxRetries: 3}
		q.wg.Add(1)
		go q.processJob(handler, job)
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler func(payload any) error, job JobPayload) {
	defer q.wg.Done()

	for job.RetryCount <= job.MaxRetries {
		err := handler(job.Payload)
		if err == nil {
			q.log.Debug("job processed", map[string]interface{}{"topic": job.Topic})
			return
		}
		if errors.Is(err, ErrInvalidCommand) {
			q.log.Warn("job dropped", map[string]interface{}{"topic": job.Topic, "error": err})
			return
		}

		job.RetryCount++
		q.log.Warn("job failed", map[string]interface{}{
			"topic":   job.Topic,
			"attempt": job.RetryCount,
			"error":   err,
		})
		if job.RetryCount > job.MaxRetries {
			q.log.Error("job permanently failed", map[string]interface{}{"topic": job.Topic, "attempts": job.RetryCount})
			return
		}

		select {
		case <-time.After(time.Duration(job.RetryCount) * q.backoff):
		case <-q.closed:
			return
		}
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

var (
	_ Queue = (*InMemoryQueue)(nil)
	_ Queue = (*AMQPQueue)(nil)
)

// Close stops pending retries and waits for in-flight jobs.
func (q *InMemoryQueue) Close() error {
	q.once.Do(func() { close(q.closed) })
	q.wg.Wait()
	return nil
}
