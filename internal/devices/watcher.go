package devices

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"m8flash/internal/logging"
	"m8flash/internal/session"
	"m8flash/internal/task"
)

// Observer receives device-list snapshots.
type Observer interface {
	DevicesUpdated(ctx context.Context, snapshot session.DeviceSnapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, snapshot session.DeviceSnapshot)

// DevicesUpdated calls f.
func (f ObserverFunc) DevicesUpdated(ctx context.Context, snapshot session.DeviceSnapshot) {
	f(ctx, snapshot)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the watcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logging.NewComponentLogger(logger, "device-watcher")
	}
}

// WithBackoff sets the retry delays after bus failures. The delay doubles
// after each consecutive failure up to max.
func WithBackoff(initial, max time.Duration) Option {
	return func(w *Watcher) {
		if initial > 0 {
			w.initialBackoff = initial
		}
		if max >= w.initialBackoff {
			w.maxBackoff = max
		}
	}
}

// Watcher keeps Session.Devices in step with the bus.
type Watcher struct {
	store          *session.Store
	bus            Bus
	logger         *slog.Logger
	initialBackoff time.Duration
	maxBackoff     time.Duration
	slot           task.Slot
}

// NewWatcher constructs a watcher over bus that writes into store.
func NewWatcher(store *session.Store, bus Bus, opts ...Option) *Watcher {
	w := &Watcher{
		store:          store,
		bus:            bus,
		logger:         logging.NewComponentLogger(logging.NewNop(), "device-watcher"),
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the watch loop and returns immediately. While a loop is
// running, later calls return the same task.
func (w *Watcher) Start(ctx context.Context, observer Observer) *task.Task {
	return w.slot.Once(ctx, "device-watcher", func(ctx context.Context) error {
		return w.run(ctx, observer)
	})
}

// Task returns the current watch loop handle, or nil before Start.
func (w *Watcher) Task() *task.Task {
	return w.slot.Current()
}

// Stop cancels the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.slot.Stop()
}

// watchState is owned by the loop goroutine.
type watchState struct {
	previous  []session.DeviceInfo
	missing   map[string]session.DeviceInfo
	published bool
}

func (w *Watcher) run(ctx context.Context, observer Observer) error {
	w.logger.Info("device watcher started", logging.String(logging.FieldEventType, "device_watcher_started"))
	defer w.logger.Info("device watcher stopped", logging.String(logging.FieldEventType, "device_watcher_stopped"))

	state := &watchState{missing: make(map[string]session.DeviceInfo)}
	backoff := w.initialBackoff
	for {
		err := w.refresh(ctx, observer, state, nil)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil
		}
		w.warnBus("device enumeration failed", "device_list_failed", err, backoff)
		if !sleep(ctx, backoff) {
			return nil
		}
		backoff = w.nextBackoff(backoff)
	}

	backoff = w.initialBackoff
	resync := false
	for {
		if resync {
			if err := w.refresh(ctx, observer, state, nil); err != nil && ctx.Err() == nil {
				w.warnBus("device enumeration failed", "device_list_failed", err, backoff)
			}
		}
		stream, err := w.bus.Watch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.warnBus("device watch unavailable", "device_watch_failed", err, backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = w.nextBackoff(backoff)
			resync = true
			continue
		}

		handled, err := w.consume(ctx, stream, observer, state)
		_ = stream.Close()
		if ctx.Err() != nil {
			return nil
		}
		if handled > 0 {
			backoff = w.initialBackoff
		}
		w.warnBus("device watch interrupted", "device_watch_interrupted", err, backoff)
		if !sleep(ctx, backoff) {
			return nil
		}
		backoff = w.nextBackoff(backoff)
		resync = true
	}
}

// consume handles notifications until the stream fails. It reports how many
// notifications were handled.
func (w *Watcher) consume(ctx context.Context, stream Stream, observer Observer, state *watchState) (int, error) {
	handled := 0
	for {
		note, err := stream.Next(ctx)
		if err != nil {
			return handled, err
		}
		w.logger.Debug("device notification",
			logging.String("action", string(note.Action)),
			logging.String("identity", note.Identity),
			logging.String(logging.FieldSource, note.Source),
		)
		if err := w.refresh(ctx, observer, state, &note); err != nil {
			if ctx.Err() != nil {
				return handled, ctx.Err()
			}
			w.logger.Warn("device refresh failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "device_refresh_failed"),
				logging.String(logging.FieldErrorHint, "check that tycmd can reach the USB bus"),
				logging.String(logging.FieldImpact, "device list may be stale until the next change"),
			)
			continue
		}
		handled++
	}
}

// refresh re-lists the bus, folds in the notification, and publishes when the
// device list changed.
func (w *Watcher) refresh(ctx context.Context, observer Observer, state *watchState, note *Notification) error {
	listed, err := w.bus.List(ctx)
	if err != nil {
		return err
	}
	listed = session.DedupDevices(listed)
	next := state.merge(listed, note)

	var changed bool
	if err := w.store.Update(ctx, func(s *session.Session) error {
		changed = s.SetDevices(next)
		return nil
	}); err != nil {
		return err
	}

	added, removed := diffIdentities(state.previous, next)
	state.previous = next
	if !changed && state.published {
		return nil
	}
	if len(added) > 0 || len(removed) > 0 {
		w.logger.Info("device list changed",
			logging.String(logging.FieldEventType, "device_list_changed"),
			logging.Any("added", added),
			logging.Any("removed", removed),
			logging.Int("count", len(next)),
		)
	}

	snapshot, err := w.store.SnapshotDevices(ctx)
	if err != nil {
		return err
	}
	state.published = true
	if observer != nil {
		observer.DevicesUpdated(ctx, snapshot)
	}
	return nil
}

// merge applies a notification to the set of boards tycmd reported missing.
// A missing board stays listed with state missing until it is removed or shows
// up in a listing again.
func (s *watchState) merge(listed []session.DeviceInfo, note *Notification) []session.DeviceInfo {
	if note != nil && note.Identity != "" {
		switch note.Action {
		case ActionMiss:
			for _, prev := range s.previous {
				if prev.Identity() == note.Identity {
					prev.State = session.DeviceMissing
					s.missing[note.Identity] = prev
					break
				}
			}
		case ActionRemove, ActionAdd:
			delete(s.missing, note.Identity)
		}
	}

	present := make(map[string]struct{}, len(listed))
	out := make([]session.DeviceInfo, 0, len(listed)+len(s.missing))
	for _, dev := range listed {
		id := dev.Identity()
		present[id] = struct{}{}
		if dev.State != session.DeviceMissing {
			delete(s.missing, id)
		}
		out = append(out, dev)
	}
	for _, prev := range s.previous {
		id := prev.Identity()
		if _, ok := present[id]; ok {
			continue
		}
		if missing, ok := s.missing[id]; ok {
			out = append(out, missing)
			present[id] = struct{}{}
		}
	}
	return out
}

func diffIdentities(before, after []session.DeviceInfo) (added, removed []string) {
	prev := make(map[string]struct{}, len(before))
	for _, dev := range before {
		prev[dev.Identity()] = struct{}{}
	}
	next := make(map[string]struct{}, len(after))
	for _, dev := range after {
		id := dev.Identity()
		next[id] = struct{}{}
		if _, ok := prev[id]; !ok {
			added = append(added, id)
		}
	}
	for _, dev := range before {
		if _, ok := next[dev.Identity()]; !ok {
			removed = append(removed, dev.Identity())
		}
	}
	return added, removed
}

func (w *Watcher) warnBus(msg, eventType string, err error, retry time.Duration) {
	if err == nil {
		err = ErrStreamClosed
	}
	hint := "check that tycmd is installed and the user can access USB devices"
	if errors.Is(err, ErrStreamClosed) {
		hint = "the watch process exited; it will be restarted"
	}
	w.logger.Warn(msg,
		logging.Error(err),
		logging.Duration("retry_in", retry),
		logging.String(logging.FieldEventType, eventType),
		logging.String(logging.FieldErrorHint, hint),
		logging.String(logging.FieldImpact, "device list may be stale"),
	)
}

func (w *Watcher) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > w.maxBackoff {
		return w.maxBackoff
	}
	return next
}

// sleep waits for d or until ctx ends, reporting whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
