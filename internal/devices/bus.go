package devices

import (
	"context"
	"errors"
	"sync"

	"m8flash/internal/session"
)

// ErrStreamClosed reports that a notification stream ended.
var ErrStreamClosed = errors.New("device notification stream closed")

// Action names what happened to a board.
type Action string

const (
	ActionAdd    Action = "add"
	ActionChange Action = "change"
	ActionMiss   Action = "miss"
	ActionRemove Action = "remove"
)

// Notification is a hint that the bus changed. Identity is empty when the
// source cannot tell which board was affected.
type Notification struct {
	Action   Action
	Identity string
	Source   string
}

// Stream delivers notifications until closed.
type Stream interface {
	// Next blocks until the next notification, the stream ends, or ctx ends.
	Next(ctx context.Context) (Notification, error)
	Close() error
}

// Lister enumerates the boards currently on the bus.
type Lister interface {
	List(ctx context.Context) ([]session.DeviceInfo, error)
}

// Notifier opens a stream of change notifications.
type Notifier interface {
	Watch(ctx context.Context) (Stream, error)
}

// Bus is the device discovery capability used by the Watcher.
type Bus interface {
	Lister
	Notifier
}

type combinedBus struct {
	Lister
	Notifier
}

// Combine pairs a lister with a separate notifier.
func Combine(lister Lister, notifier Notifier) Bus {
	return combinedBus{Lister: lister, Notifier: notifier}
}

// chanStream adapts a producer goroutine to the Stream interface.
type chanStream struct {
	events chan Notification
	cancel context.CancelFunc
	once   sync.Once
	err    error
}

func newChanStream(ctx context.Context, buffer int) (*chanStream, context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	return &chanStream{events: make(chan Notification, buffer), cancel: cancel}, runCtx
}

// emit hands n to the consumer unless the stream is shutting down.
func (s *chanStream) emit(ctx context.Context, n Notification) bool {
	select {
	case s.events <- n:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish ends the stream. Must be called exactly once by the producer.
func (s *chanStream) finish(err error) {
	s.err = err
	close(s.events)
}

func (s *chanStream) Next(ctx context.Context) (Notification, error) {
	select {
	case n, ok := <-s.events:
		if !ok {
			if s.err != nil {
				return Notification{}, s.err
			}
			return Notification{}, ErrStreamClosed
		}
		return n, nil
	case <-ctx.Done():
		return Notification{}, ctx.Err()
	}
}

func (s *chanStream) Close() error {
	s.once.Do(s.cancel)
	return nil
}
