// Package loop provides the single control goroutine that all presence
// state is mutated on. Network pumps and timers never touch state
// directly; they post closures here.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"
)

// defaultQueueSize is the number of pending callbacks buffered before
// Post blocks.
const defaultQueueSize = 64

// ErrStopped is returned by Do when the loop is no longer running.
var ErrStopped = errors.New("loop: stopped")

// Loop executes posted callbacks sequentially, each to completion.
type Loop struct {
	queue    chan func()
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a loop. It does nothing until Run is called.
func New() *Loop {
	return &Loop{
		queue: make(chan func(), defaultQueueSize),
		done:  make(chan struct{}),
	}
}

// Run dispatches callbacks until ctx is cancelled or Stop is called.
// Callbacks still queued at that point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case f := <-l.queue:
			f()
		}
	}
}

// Stop ends Run. Safe to call more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues f to run on the loop. It reports false if the loop has
// stopped, in which case f will never run.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case <-l.done:
		return false
	case l.queue <- f:
		return true
	}
}

// Do runs f on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		f()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc runs f on the loop once d has elapsed. The timer cannot be
// cancelled; if the loop has stopped by then f is dropped.
func (l *Loop) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, func() {
		l.Post(f)
	})
}
