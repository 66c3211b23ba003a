package devices

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"m8flash/internal/logging"
	"m8flash/internal/session"
)

// DefaultSerialPatterns match the device nodes USB serial boards create on
// Linux and macOS.
var DefaultSerialPatterns = []string{"ttyACM*", "cu.usbmodem*"}

// DevfsNotifier watches a device directory for serial nodes appearing or
// disappearing.
type DevfsNotifier struct {
	dir      string
	patterns []string
	logger   *slog.Logger
}

// NewDevfsNotifier watches dir for nodes matching patterns. Nil patterns use
// DefaultSerialPatterns.
func NewDevfsNotifier(dir string, patterns []string, logger *slog.Logger) *DevfsNotifier {
	if len(patterns) == 0 {
		patterns = DefaultSerialPatterns
	}
	return &DevfsNotifier{
		dir:      dir,
		patterns: patterns,
		logger:   logging.NewComponentLogger(logger, "devfs-notifier"),
	}
}

// Watch starts an fsnotify watcher on the device directory.
func (d *DevfsNotifier) Watch(ctx context.Context) (Stream, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, session.BusError("devfs watch", err)
	}
	if err := watcher.Add(d.dir); err != nil {
		_ = watcher.Close()
		return nil, session.BusError("devfs watch "+d.dir, err)
	}

	stream, runCtx := newChanStream(ctx, 16)
	d.logger.Info("devfs notifier started",
		logging.String(logging.FieldEventType, "devfs_notifier_started"),
		logging.String("dir", d.dir),
	)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-runCtx.Done():
				stream.finish(nil)
				return
			case event, ok := <-watcher.Events:
				if !ok {
					stream.finish(nil)
					return
				}
				note, matched := d.notification(event)
				if !matched {
					continue
				}
				if !stream.emit(runCtx, note) {
					stream.finish(nil)
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					stream.finish(nil)
					return
				}
				stream.finish(session.BusError("devfs watch", err))
				return
			}
		}
	}()
	return stream, nil
}

func (d *DevfsNotifier) notification(event fsnotify.Event) (Notification, bool) {
	name := filepath.Base(event.Name)
	if !d.matches(name) {
		return Notification{}, false
	}
	var action Action
	switch {
	case event.Has(fsnotify.Create):
		action = ActionAdd
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		action = ActionRemove
	case event.Has(fsnotify.Chmod):
		action = ActionChange
	default:
		return Notification{}, false
	}
	return Notification{Action: action, Identity: event.Name, Source: "devfs"}, true
}

func (d *DevfsNotifier) matches(name string) bool {
	for _, pattern := range d.patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
