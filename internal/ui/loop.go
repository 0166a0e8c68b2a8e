// Package ui models the distinguished UI goroutine and the dialogs shown on it.
//
// A Loop owns a task queue. The goroutine running Loop.Run or Loop.Serve is
// the dispatch goroutine; contexts derived on it carry a marker that
// OnDispatchThread detects. Code on the dispatch goroutine that waits for
// background work must use WaitFor so posted tasks keep running.
package ui

import (
	"context"
	"sync"
	"time"
)

// PollInterval bounds how long a foreground wait goes without re-checking
// cancellation.
const PollInterval = 200 * time.Millisecond

type dispatchKey struct{}

type task struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

// Loop is a single-consumer task queue.
type Loop struct {
	mu    sync.Mutex
	queue []task
	wake  chan struct{}
}

// NewLoop returns an idle loop.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// OnDispatchThread reports whether ctx was derived on a dispatch goroutine.
func OnDispatchThread(ctx context.Context) bool {
	l, _ := ctx.Value(dispatchKey{}).(*Loop)
	return l != nil
}

// Detach strips the dispatch marker, for contexts handed to worker goroutines.
func Detach(ctx context.Context) context.Context {
	if !OnDispatchThread(ctx) {
		return ctx
	}
	return context.WithValue(ctx, dispatchKey{}, (*Loop)(nil))
}

func (l *Loop) mark(ctx context.Context) context.Context {
	return context.WithValue(ctx, dispatchKey{}, l)
}

// Run executes main as the dispatch goroutine, then drains pending tasks.
func (l *Loop) Run(ctx context.Context, main func(ctx context.Context) error) error {
	ctx = l.mark(ctx)
	err := main(ctx)
	l.drain(ctx)
	return err
}

// Serve runs posted tasks until ctx is done.
func (l *Loop) Serve(ctx context.Context) error {
	ctx = l.mark(ctx)
	for {
		l.drain(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// InvokeLater posts fn to run on the dispatch goroutine.
func (l *Loop) InvokeLater(fn func()) {
	l.post(task{fn: func(context.Context) { fn() }})
}

// InvokeAndWait runs fn on the dispatch goroutine and waits for it.
// Called on the dispatch goroutine it runs fn directly.
func (l *Loop) InvokeAndWait(ctx context.Context, fn func(ctx context.Context)) error {
	if OnDispatchThread(ctx) {
		fn(ctx)
		return nil
	}
	t := task{fn: fn, done: make(chan struct{})}
	l.post(t)
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitFor blocks until done is closed or ctx ends. On the dispatch goroutine
// it keeps running posted tasks, waking at least every poll.
func (l *Loop) WaitFor(ctx context.Context, done <-chan struct{}, poll time.Duration) error {
	if !OnDispatchThread(ctx) {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if poll <= 0 {
		poll = PollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		l.drain(ctx)
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		case <-ticker.C:
		}
	}
}

func (l *Loop) post(t task) {
	l.mu.Lock()
	l.queue = append(l.queue, t)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) drain(ctx context.Context) {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		t := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		t.fn(ctx)
		if t.done != nil {
			close(t.done)
		}
	}
}
