// Package loop runs the sequencer's logic on a single goroutine.
//
// Timer callbacks, store notifications and UI calls are all turned into
// tasks executed one at a time, so the clock, the ripple timers and the
// replica merge never run in parallel.
package loop

import (
	"context"
	"sync"
	"time"
)

// Timer is a cancellable scheduled task
type Timer interface {
	// Stop cancels the task. It returns false if the task already fired
	// or was already stopped.
	Stop() bool
}

// Scheduler schedules tasks on the loop
type Scheduler interface {
	Now() time.Time
	// AfterFunc runs fn on the loop once d has elapsed
	AfterFunc(d time.Duration, fn func()) Timer
	// Post queues fn to run on the loop
	Post(fn func())
}

// Executor is a Scheduler that can also run a task and wait for it
type Executor interface {
	Scheduler
	// Call runs fn on the loop and returns once it finished. It must not
	// be called from a task already running on the loop.
	Call(fn func()) bool
}

// Loop is the real-time Executor
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

// New creates a loop. Tasks run once Run is called.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run executes tasks until ctx is cancelled (blocking - run in goroutine)
func (l *Loop) Run(ctx context.Context) {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			fn()

			if ctx.Err() != nil {
				return
			}
		}
	}
}

// Done is closed once Run returned
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Now returns wall-clock time
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Post queues fn. Tasks posted after the loop stopped are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AfterFunc schedules fn on the loop after d
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() {
		l.Post(fn)
	})
}

// Call runs fn on the loop and waits for it. Returns false if the loop
// stopped before fn could run.
func (l *Loop) Call(fn func()) bool {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}
