package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"m8flash/internal/logging"
	"m8flash/internal/session"
	"m8flash/internal/task"
)

var (
	// ErrUnknownCommand reports a command name outside the wire table.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrNoHandler reports a command kind without a registered handler.
	ErrNoHandler = errors.New("no handler registered")
	// ErrQueueFull reports a command dropped because the handler queue is full.
	ErrQueueFull = errors.New("command queue full")
)

// Validator is implemented by payloads with constraints beyond their shape.
type Validator interface {
	Validate() error
}

// decoder parses a raw payload and returns the bound handler invocation.
type decoder func(raw json.RawMessage) (func(context.Context) error, error)

type job struct {
	kind   CommandKind
	invoke func(context.Context) error
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logging.NewComponentLogger(logger, "bridge")
	}
}

// WithQueueSize sets the inbound command queue capacity.
func WithQueueSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.queue = make(chan job, n)
		}
	}
}

// WithObserverBuffer sets each observer's outbound queue capacity.
func WithObserverBuffer(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.observerBuffer = n
		}
	}
}

// Bridge routes commands to handlers and events to observers.
type Bridge struct {
	logger *slog.Logger

	handlersMu sync.RWMutex
	handlers   map[CommandKind]decoder

	queue  chan job
	worker task.Slot

	observersMu    sync.Mutex
	observers      map[*Subscription]struct{}
	observerBuffer int
}

// New constructs a bridge. Call Start before dispatching.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		logger:         logging.NewComponentLogger(logging.NewNop(), "bridge"),
		handlers:       make(map[CommandKind]decoder),
		queue:          make(chan job, 64),
		observers:      make(map[*Subscription]struct{}),
		observerBuffer: 64,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register binds fn to kind. The raw payload is decoded into P, validated when
// P implements Validator, and fn runs on the bridge worker. A later
// registration for the same kind replaces the earlier one.
func Register[P any](b *Bridge, kind CommandKind, fn func(ctx context.Context, payload P) error) {
	dec := func(raw json.RawMessage) (func(context.Context) error, error) {
		var payload P
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
			if err := json.Unmarshal(trimmed, &payload); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		if v, ok := any(payload).(Validator); ok {
			if err := v.Validate(); err != nil {
				return nil, err
			}
		}
		return func(ctx context.Context) error { return fn(ctx, payload) }, nil
	}
	b.handlersMu.Lock()
	b.handlers[kind] = dec
	b.handlersMu.Unlock()
}

// Start launches the handler worker. Commands queued before Start wait for it.
func (b *Bridge) Start(ctx context.Context) *task.Task {
	return b.worker.Once(ctx, "bridge-worker", b.work)
}

// Stop cancels the worker and waits for it.
func (b *Bridge) Stop() {
	b.worker.Stop()
}

func (b *Bridge) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-b.queue:
			b.execute(ctx, j)
		}
	}
}

func (b *Bridge) execute(ctx context.Context, j job) {
	ctx = logging.WithCommand(ctx, j.kind.String())
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(b.logger, "command handler panicked", "command_handler_panic",
				logging.String(logging.FieldCommand, j.kind.String()),
				logging.Any("panic", r),
			)
		}
	}()
	if err := j.invoke(ctx); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, b.logger), "command handler failed", "command_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "command had no effect"),
		)
	}
}

// Dispatch decodes raw against the handler registered for the named command
// and queues the handler. It never blocks: malformed payloads and a full queue
// are logged and reported, and the command is dropped.
func (b *Bridge) Dispatch(ctx context.Context, name string, raw json.RawMessage) error {
	kind, ok := ParseCommand(name)
	if !ok {
		err := session.MalformedCommand(name, ErrUnknownCommand)
		b.logMalformed(name, err)
		return err
	}
	b.handlersMu.RLock()
	dec, ok := b.handlers[kind]
	b.handlersMu.RUnlock()
	if !ok {
		err := session.MalformedCommand(name, ErrNoHandler)
		b.logMalformed(name, err)
		return err
	}
	invoke, err := dec(raw)
	if err != nil {
		err = session.MalformedCommand(name, err)
		b.logMalformed(name, err)
		return err
	}
	select {
	case b.queue <- job{kind: kind, invoke: invoke}:
		return nil
	default:
		b.logger.Warn("dropping command",
			logging.String(logging.FieldCommand, name),
			logging.String(logging.FieldEventType, "command_dropped"),
			logging.String(logging.FieldErrorHint, "a handler is blocking the bridge worker"),
			logging.String(logging.FieldImpact, "command ignored"),
		)
		return ErrQueueFull
	}
}

func (b *Bridge) logMalformed(name string, err error) {
	b.logger.Warn("malformed command",
		logging.String(logging.FieldCommand, name),
		logging.Error(err),
		logging.String(logging.FieldEventType, "command_malformed"),
		logging.String(logging.FieldErrorHint, "check the shell sends the expected payload"),
		logging.String(logging.FieldImpact, "command ignored"),
	)
}
