package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"m8flash/internal/acquire"
	"m8flash/internal/bridge"
	"m8flash/internal/config"
	"m8flash/internal/devices"
	"m8flash/internal/flash"
	"m8flash/internal/logging"
	"m8flash/internal/notifications"
	"m8flash/internal/session"
)

// ErrAlreadyRunning reports that another process holds the instance lock.
var ErrAlreadyRunning = errors.New("another m8flash instance is already running")

// Options supplies the capabilities the app drives. Bus and Updater are
// required; the rest are optional.
type Options struct {
	Bus        devices.Bus
	Updater    flash.Updater
	Recorder   flash.Recorder
	Notifier   notifications.Service
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// App owns one firmware session and everything that acts on it.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	bus    devices.Bus

	store   *session.Store
	bridge  *bridge.Bridge
	watcher *devices.Watcher
	acquire *acquire.Pipeline
	flash   *flash.Pipeline

	lock *flock.Flock

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New wires the components. Nothing runs until Start.
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil || opts.Bus == nil || opts.Updater == nil {
		return nil, errors.New("app requires config, device bus, and updater")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	a := &App{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "app"),
		bus:    opts.Bus,
		store:  session.NewStore(),
		lock:   flock.New(cfg.LockPath()),
	}
	a.bridge = bridge.New(
		bridge.WithLogger(logger),
		bridge.WithQueueSize(cfg.Bridge.CommandQueue),
		bridge.WithObserverBuffer(cfg.Bridge.ObserverBuffer),
	)
	a.watcher = devices.NewWatcher(a.store, opts.Bus,
		devices.WithLogger(logger),
		devices.BackoffFromConfig(cfg),
	)

	flashOpts := []flash.Option{
		flash.WithLogger(logger),
		flash.WithFinalizeWait(cfg.FinalizeWait()),
		flash.WithCapability(cfg.Devices.UploadCapability),
	}
	if opts.Recorder != nil {
		flashOpts = append(flashOpts, flash.WithRecorder(opts.Recorder))
	}
	if opts.Notifier != nil {
		flashOpts = append(flashOpts, flash.WithNotifier(opts.Notifier))
	}
	a.flash = flash.New(a.store, opts.Updater, a.bridge, flashOpts...)

	acquireOpts := []acquire.Option{
		acquire.WithLogger(logger),
		acquire.WithHandoff(a.handoff),
		acquire.WithBusy(a.flash.Busy),
	}
	if opts.HTTPClient != nil {
		acquireOpts = append(acquireOpts, acquire.WithHTTPClient(opts.HTTPClient))
	}
	if opts.Notifier != nil {
		acquireOpts = append(acquireOpts, acquire.WithNotifier(opts.Notifier))
	}
	a.acquire = acquire.New(a.store, a.bridge, acquire.ConfigFrom(cfg), acquireOpts...)

	a.registerHandlers()
	return a, nil
}

// Store returns the session store.
func (a *App) Store() *session.Store { return a.store }

// Bridge returns the event bridge.
func (a *App) Bridge() *bridge.Bridge { return a.bridge }

// Watcher returns the device watcher.
func (a *App) Watcher() *devices.Watcher { return a.watcher }

// Context returns the root context handed to Start, or nil before Start.
func (a *App) Context() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx
}

// Start acquires the instance lock and launches the bridge worker.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return errors.New("app already running")
	}
	if err := a.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	ok, err := a.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	a.ctx, a.cancel = context.WithCancel(ctx)
	a.bridge.Start(a.ctx)
	a.running = true
	a.logger.Info("m8flash started", logging.String("lock", a.cfg.LockPath()))
	return nil
}

// Stop cancels every task, waits for them, and releases the lock.
func (a *App) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	cancel := a.cancel
	a.mu.Unlock()

	cancel()
	a.watcher.Stop()
	if t := a.acquire.Task(); t != nil {
		_ = t.Stop()
	}
	if t := a.flash.Task(); t != nil {
		_ = t.Stop()
	}
	a.bridge.Stop()
	if err := a.lock.Unlock(); err != nil {
		a.logger.Warn("failed to release instance lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file if no m8flash process is running"),
			logging.String(logging.FieldImpact, "next start may report another instance"),
		)
	}
	a.logger.Info("m8flash stopped")
}

// Status returns a copy of the session.
func (a *App) Status(ctx context.Context) (session.Session, error) {
	return a.store.Snapshot(ctx)
}

// handoff runs on the acquisition task after a successful acquisition.
func (a *App) handoff(ctx context.Context, result acquire.Result) {
	root := a.Context()
	if root == nil {
		root = ctx
	}
	if _, err := a.flash.Start(root, result.Image, ""); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, a.logger), "flash not started", "flash_handoff_failed",
			logging.Error(err),
			logging.String("image", result.Image),
			logging.String(logging.FieldImpact, "downloaded firmware was not written"),
		)
	}
}

// FlashOnce acquires source and flashes it without a shell. It lists the
// attached boards first so target selection sees them.
func (a *App) FlashOnce(ctx context.Context, source, version, board string) error {
	if err := a.RefreshDevices(ctx); err != nil {
		return err
	}
	if err := a.store.Update(ctx, func(s *session.Session) error {
		if err := s.SelectSource(source, version); err != nil {
			return err
		}
		s.SelectedBoard = board
		return nil
	}); err != nil {
		return err
	}

	runID := uuid.NewString()
	result, err := a.acquire.Run(logging.WithRunID(ctx, runID), runID)
	if err != nil {
		return err
	}
	return a.flash.Flash(ctx, result.Image, board)
}

// RefreshDevices lists the bus once and stores the result.
func (a *App) RefreshDevices(ctx context.Context) error {
	listed, err := a.bus.List(ctx)
	if err != nil {
		return err
	}
	return a.store.Update(ctx, func(s *session.Session) error {
		s.SetDevices(listed)
		return nil
	})
}
