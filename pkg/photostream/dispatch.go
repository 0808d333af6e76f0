package photostream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Dispatcher runs tasks on the delivery context chosen by the embedder.
// Post returns false if the task was not accepted.
type Dispatcher interface {
	Post(task func()) bool
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(task func()) bool

func (f DispatcherFunc) Post(task func()) bool { return f(task) }

// Inline runs every task on the posting goroutine.
var Inline = DispatcherFunc(func(task func()) bool {
	task()
	return true
})

// Loop is a serial executor: tasks run one at a time, in post order, on a
// single goroutine. Run donates the caller's goroutine; Start spawns one.
type Loop struct {
	tasks   chan func()
	done    chan struct{}
	stop    sync.Once
	wg      sync.WaitGroup
	pending atomic.Int64
	logger  *slog.Logger
}

// NewLoop creates a Loop whose queue holds up to buffer tasks before Post
// blocks.
func NewLoop(buffer int) *Loop {
	if buffer < 1 {
		buffer = 1
	}
	return &Loop{
		tasks:  make(chan func(), buffer),
		done:   make(chan struct{}),
		logger: slog.Default(),
	}
}

// Start runs the loop on a new goroutine until ctx ends or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.Run(ctx)
	}()
}

// Run executes tasks on the calling goroutine until ctx ends or Stop is
// called. Either way further posts are rejected and tasks already queued
// still run.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case task := <-l.tasks:
			l.exec(task)
		case <-l.done:
			l.drain()
			return
		case <-ctx.Done():
			l.stop.Do(func() { close(l.done) })
			l.drain()
			return
		}
	}
}

func (l *Loop) drain() {
	for {
		select {
		case task := <-l.tasks:
			l.exec(task)
		default:
			return
		}
	}
}

func (l *Loop) exec(task func()) {
	defer l.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("listener panicked", "panic", r)
		}
	}()
	task()
}

// Post queues task. It blocks while the queue is full and returns false
// once the loop is stopped.
func (l *Loop) Post(task func()) bool {
	if task == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
	}
	l.pending.Add(1)
	select {
	case l.tasks <- task:
		return true
	case <-l.done:
		l.pending.Add(-1)
		return false
	}
}

// Stop rejects further posts, lets the running loop finish queued tasks and
// waits for a loop started with Start to exit.
func (l *Loop) Stop() {
	l.stop.Do(func() { close(l.done) })
	l.wg.Wait()
}

// WaitIdle blocks until every posted task has run, or the timeout expires.
// Returns true if idle, false if timed out.
func (l *Loop) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if l.pending.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}
