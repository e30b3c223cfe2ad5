// Package taskqueue is the delivery pipeline between the capture engine and
// the collector. It is a strict FIFO: one drain loop, one in-flight task,
// infinite exponential backoff on failure. A stuck head task starves the
// rest of the queue on purpose - ordering is the contract, not throughput.
package taskqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one deferred unit of outbound work. The queue never inspects a
// payload; identity lives entirely in the closure.
type Task func(ctx context.Context) error

// State is the drain loop's lifecycle. There is no terminal state - the
// queue lives as long as the session.
type State int

const (
	StateIdle State = iota
	StateDraining
)

const (
	// DefaultBackoffFloor is the wait after the first failed attempt.
	DefaultBackoffFloor = 1 * time.Second
	// backoffCeilFactor caps the doubling at 30x the floor.
	backoffCeilFactor = 30
)

// Queue delivers tasks in the exact order they were enqueued, retrying each
// one until it succeeds. Enqueue never blocks; tasks keep accumulating
// while the head retries.
type Queue struct {
	mu       sync.Mutex
	tasks    []Task
	state    State
	reporter Reporter
	floor    time.Duration
	ceil     time.Duration
}

type Option func(*Queue)

// WithBackoffFloor overrides the base backoff interval. The ceiling scales
// with it (30x), so tests can run the full retry ladder in milliseconds.
func WithBackoffFloor(floor time.Duration) Option {
	return func(q *Queue) {
		q.floor = floor
		q.ceil = backoffCeilFactor * floor
	}
}

// WithReporter sets the shared failure indicator target.
func WithReporter(r Reporter) Option {
	return func(q *Queue) {
		q.reporter = r
	}
}

func New(opts ...Option) *Queue {
	q := &Queue{
		state:    StateIdle,
		reporter: NewLogReporter(),
		floor:    DefaultBackoffFloor,
		ceil:     backoffCeilFactor * DefaultBackoffFloor,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a task and guarantees it will eventually be attempted,
// after everything already queued. Starts the drain loop when the queue was
// idle; re-entrant enqueues while draining only append.
func (q *Queue) Enqueue(ctx context.Context, task Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	if q.state == StateIdle {
		// transition before the first suspension point, so no second
		// drain loop can start in between
		q.state = StateDraining
		go q.drain(ctx)
	}
	q.mu.Unlock()
}

// Len returns the number of undelivered tasks, including the in-flight one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// StateNow returns the drain loop state.
func (q *Queue) StateNow() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *Queue) drain(ctx context.Context) {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.state = StateIdle
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.mu.Unlock()

		if !q.deliver(ctx, task) {
			// context gone; abandon the rest, there is no durable log
			q.mu.Lock()
			q.state = StateIdle
			q.mu.Unlock()
			return
		}

		// the head is only removed once it has succeeded, so the queue
		// never advances past an undelivered task
		q.mu.Lock()
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
	}
}

// deliver retries a single task until it succeeds or the context is
// canceled. Backoff starts at the floor and doubles per consecutive
// failure, capped at the ceiling; it resets for the next task.
func (q *Queue) deliver(ctx context.Context, task Task) bool {
	backoff := q.floor
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return false
		}

		err := task(ctx)
		if err == nil {
			q.reporter.DeliveryOK()
			return true
		}

		q.reporter.DeliveryFailed(err)
		slog.Debug("delivery failed, backing off", "attempt", attempt, "wait", backoff, "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		backoff *= 2
		if backoff > q.ceil {
			backoff = q.ceil
		}
	}
}
