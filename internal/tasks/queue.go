// Package tasks runs fire-and-forget bookkeeping work (access-count bumps,
// hot-path recording, delayed dedup deletes) on a bounded worker pool.
//
// Submitting never blocks and never fails the caller: when the queue is
// full the task is dropped with a warning. Task errors are logged and
// mirrored on an observation channel so they stay inspectable without ever
// reaching the read path.
package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is a named unit of background work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Queue is a bounded background task queue.
type Queue struct {
	ch      chan Task
	errs    chan error
	wg      sync.WaitGroup
	timers  map[*time.Timer]struct{}
	closed  bool
	mu      sync.Mutex
	dropped int
}

// New creates a queue with the given buffer size and worker count and
// starts the workers.
func New(size, workers int) *Queue {
	if size <= 0 {
		size = 256
	}
	if workers <= 0 {
		workers = 2
	}
	q := &Queue{
		ch:     make(chan Task, size),
		errs:   make(chan error, size),
		timers: make(map[*time.Timer]struct{}),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// TrySubmit enqueues a task without blocking. Returns false if the queue
// is full or closed; the task is dropped in that case.
func (q *Queue) TrySubmit(name string, run func(ctx context.Context) error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}

	select {
	case q.ch <- Task{Name: name, Run: run}:
		return true
	default:
		q.dropped++
		slog.Warn("tasks.dropped", "task", name)
		return false
	}
}

// SubmitAfter schedules a task to be enqueued after the given delay.
// Used for grace-delayed work such as reactive dedup deletion. Pending
// delays are cancelled by Close.
func (q *Queue) SubmitAfter(delay time.Duration, name string, run func(ctx context.Context) error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, t)
		q.mu.Unlock()
		q.TrySubmit(name, run)
	})
	q.timers[t] = struct{}{}
	q.mu.Unlock()
}

// Errors exposes task failures for observation. The channel is
// best-effort: when nobody is reading, errors are dropped after logging.
func (q *Queue) Errors() <-chan error {
	return q.errs
}

// Dropped returns how many tasks were rejected because the queue was full.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close stops accepting tasks, cancels pending delayed submissions,
// drains the queue, and stops the workers.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	q.mu.Unlock()

	close(q.ch)
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for task := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := task.Run(ctx)
		cancel()
		if err != nil {
			slog.Warn("tasks.failed", "task", task.Name, "error", err)
			select {
			case q.errs <- err:
			default:
			}
		}
	}
}
