package task

import (
	"context"
	"sync"
)

// Slot admits at most one running task. Claiming the slot and starting the
// goroutine happen under one lock, so two concurrent starts never both win.
type Slot struct {
	mu      sync.Mutex
	current *Task
}

// Start runs fn as a task unless one is already alive, in which case it
// returns ErrBusy.
func (s *Slot) Start(ctx context.Context, name string, fn func(context.Context) error) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.Alive() {
		return nil, ErrBusy
	}
	s.current = Go(ctx, name, fn)
	return s.current, nil
}

// Once returns the live task if there is one, otherwise starts fn.
func (s *Slot) Once(ctx context.Context, name string, fn func(context.Context) error) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.Alive() {
		return s.current
	}
	s.current = Go(ctx, name, fn)
	return s.current
}

// Busy reports whether a task is running.
func (s *Slot) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Alive()
}

// Current returns the most recent task, running or finished.
func (s *Slot) Current() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Stop cancels the running task, if any, and waits for it.
func (s *Slot) Stop() {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current != nil {
		_ = current.Stop()
	}
}
