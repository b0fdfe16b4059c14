// Package worker provides the single-goroutine task queue that owns a
// client's mutable state.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrQueueClosed = errors.New("worker queue closed")

type Task func()

// Queue runs posted tasks one at a time, in posting order, on its own
// goroutine. Posting never blocks.
type Queue struct {
	mu     sync.Mutex
	tasks  []Task
	closed bool

	wake   chan struct{}
	done   chan struct{}
	logger zerolog.Logger
}

func New(name string) *Queue {
	q := &Queue{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: log.With().Str("module", "app.worker").Str("queue", name).Logger(),
	}
	go q.run()
	return q
}

// Post enqueues t. It reports false once the queue is closed.
func (q *Queue) Post(t Task) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Delayed is a task scheduled with PostDelayed.
type Delayed struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

// Cancel prevents the task from running. Called from the worker it is
// exact: a cancelled task never runs, even if its timer already fired.
func (d *Delayed) Cancel() {
	if d == nil {
		return
	}
	d.cancelled.Store(true)
	d.timer.Stop()
}

// PostDelayed enqueues t after delay.
func (q *Queue) PostDelayed(delay time.Duration, t Task) *Delayed {
	d := &Delayed{}
	d.timer = time.AfterFunc(delay, func() {
		q.Post(func() {
			if d.cancelled.Load() {
				return
			}
			t()
		})
	})
	return d
}

// Do runs fn on the worker and waits for it to finish.
func (q *Queue) Do(ctx context.Context, fn Task) error {
	finished := make(chan struct{})
	if !q.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrQueueClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrQueueClosed
		}
	}
}

// Close stops accepting tasks. Tasks already posted still run.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the queue is closed and drained.
func (q *Queue) Done() <-chan struct{} { return q.done }

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 {
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			<-q.wake
			q.mu.Lock()
		}
		t := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.exec(t)
	}
}

func (q *Queue) exec(t Task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().Interface("panic", r).Msg("task panicked")
		}
	}()
	t()
}
