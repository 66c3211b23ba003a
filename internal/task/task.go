package task

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy reports that a Slot already holds a running task.
var ErrBusy = errors.New("task already running")

// Task is a handle to one background goroutine.
type Task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Go runs fn in a new goroutine with a context derived from ctx. The task
// outlives the caller's goroutine but ends when ctx is cancelled.
func Go(ctx context.Context, name string, fn func(context.Context) error) *Task {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	t := &Task{name: name, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer cancel()
		err := fn(runCtx)
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
	}()
	return t
}

// Name returns the label given at start.
func (t *Task) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// Alive reports whether the goroutine is still running.
func (t *Task) Alive() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Cancel asks the task to stop. It does not wait.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.cancel()
}

// Done is closed when the goroutine returns.
func (t *Task) Done() <-chan struct{} {
	if t == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return t.done
}

// Err returns the result of the task function once Done is closed.
func (t *Task) Err() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.Done():
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the task and waits for it to return.
func (t *Task) Stop() error {
	t.Cancel()
	<-t.Done()
	return t.Err()
}
