package kissio

import (
	"log/slog"
	"sync"
)

// scheduler runs the tasks of one client strictly in FIFO order on a single
// goroutine. Posting never blocks, so a task may post follow-up tasks.
type scheduler struct {
	logger *slog.Logger
	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newScheduler(logger *slog.Logger) *scheduler {
	q := &scheduler{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// post queues fn. Once the scheduler is stopped, fn runs on its own goroutine
// so late continuations are never lost.
func (q *scheduler) post(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		go q.exec(fn)
		return
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// stop lets the loop exit after draining what is already queued.
func (q *scheduler) stop() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *scheduler) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			<-q.wake
			continue
		}
		tasks := q.tasks
		q.tasks = nil
		q.mu.Unlock()

		for _, fn := range tasks {
			q.exec(fn)
		}
	}
}

func (q *scheduler) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("recovered panic in task", "panic", r)
		}
	}()
	fn()
}
