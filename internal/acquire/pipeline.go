package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"m8flash/internal/config"
	"m8flash/internal/logging"
	"m8flash/internal/services"
	"m8flash/internal/session"
	"m8flash/internal/task"
)

// ErrAcquisitionInFlight rejects a start while a run (or a flash) is active.
var ErrAcquisitionInFlight = errors.New("firmware acquisition already in flight")

// Publisher receives every status change in transition order.
type Publisher interface {
	PublishStatus(ctx context.Context, status session.FlashingStatus)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, status session.FlashingStatus)

// PublishStatus calls f.
func (f PublisherFunc) PublishStatus(ctx context.Context, status session.FlashingStatus) {
	f(ctx, status)
}

// Notifier announces finished downloads.
type Notifier interface {
	NotifyDownloadComplete(ctx context.Context, name string, size uint64) error
}

// Result describes a finished acquisition.
type Result struct {
	RunID   string
	Source  session.ArchiveSource
	Version string
	Archive string
	Image   string
	Size    uint64
}

// Config holds the settings a pipeline needs from the application config.
type Config struct {
	DownloadDir      string
	ImageVariant     string
	UserAgent        string
	GitHubToken      string
	ProgressInterval time.Duration
	Timeout          time.Duration
}

// ConfigFrom extracts pipeline settings from cfg.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		DownloadDir:      cfg.Paths.DownloadDir,
		ImageVariant:     cfg.Firmware.ImageVariant,
		UserAgent:        cfg.Firmware.UserAgent,
		GitHubToken:      cfg.Firmware.GitHubToken,
		ProgressInterval: cfg.ProgressInterval(),
		Timeout:          cfg.DownloadTimeout(),
	}
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logging.NewComponentLogger(logger, "acquire")
	}
}

// WithHTTPClient replaces the HTTP client used for downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Pipeline) {
		if client != nil {
			p.client = client
		}
	}
}

// WithHandoff registers the function that receives each successful result.
// It runs on the acquisition task, so the pipeline stays busy until it returns.
func WithHandoff(fn func(ctx context.Context, result Result)) Option {
	return func(p *Pipeline) {
		p.handoff = fn
	}
}

// WithBusy makes Start reject while busy reports true.
func WithBusy(busy func() bool) Option {
	return func(p *Pipeline) {
		p.busy = busy
	}
}

// WithNotifier announces finished downloads.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) {
		p.notifier = n
	}
}

// Pipeline runs at most one acquisition at a time.
type Pipeline struct {
	store     *session.Store
	publisher Publisher
	cfg       Config
	headers   Headers
	client    *http.Client
	logger    *slog.Logger
	handoff   func(ctx context.Context, result Result)
	busy      func() bool
	notifier  Notifier
	slot      task.Slot
}

// New constructs a pipeline writing into store and publishing to publisher.
func New(store *session.Store, publisher Publisher, cfg Config, opts ...Option) *Pipeline {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 100 * time.Millisecond
	}
	p := &Pipeline{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		headers:   Headers{UserAgent: cfg.UserAgent, Token: cfg.GitHubToken},
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    logging.NewComponentLogger(logging.NewNop(), "acquire"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Busy reports whether an acquisition is running.
func (p *Pipeline) Busy() bool {
	return p.slot.Busy()
}

// Task returns the most recent run handle.
func (p *Pipeline) Task() *task.Task {
	return p.slot.Current()
}

// Start launches an acquisition run for the selected source and returns
// immediately. A second start while a run is active returns
// ErrAcquisitionInFlight and leaves the session untouched.
func (p *Pipeline) Start(ctx context.Context) (*task.Task, error) {
	if p.busy != nil && p.busy() {
		return nil, ErrAcquisitionInFlight
	}
	runID := uuid.NewString()
	handle, err := p.slot.Start(ctx, "acquire", func(ctx context.Context) error {
		ctx = logging.WithRunID(ctx, runID)
		result, err := p.Run(ctx, runID)
		if err != nil {
			return err
		}
		if p.handoff != nil {
			p.handoff(ctx, result)
		}
		return nil
	})
	if errors.Is(err, task.ErrBusy) {
		return nil, ErrAcquisitionInFlight
	}
	return handle, err
}

// Run performs one acquisition synchronously. Every failure is reported as an
// Error status before Run returns.
func (p *Pipeline) Run(ctx context.Context, runID string) (Result, error) {
	logger := logging.WithContext(ctx, p.logger)

	var (
		source  session.ArchiveSource
		version string
	)
	status, err := p.mutate(ctx, func(s *session.Session) error {
		s.DownloadStatus.Rearm()
		source, version = s.ArchiveSource, s.Version
		if source.IsZero() {
			return session.ErrNoSourceSelected
		}
		if err := s.DownloadStatus.Transition(session.DownloadStarting); err != nil {
			return err
		}
		s.DownloadStatus.BytesDownloaded = 0
		s.DownloadStatus.Size = 0
		s.DownloadStatus.Log = nil
		s.Size = 0
		return nil
	})
	switch {
	case errors.Is(err, session.ErrNoSourceSelected):
		err = session.SourceSelectionError("acquire", err)
		p.fail(ctx, err)
		return Result{}, err
	case err != nil:
		return Result{}, session.AcquisitionError("acquire", err)
	}
	p.publish(ctx, status)

	logger.Info("firmware acquisition started",
		logging.String(logging.FieldEventType, "acquire_started"),
		logging.String(logging.FieldSource, source.Location()),
		logging.String(logging.FieldVersion, version),
	)

	result := Result{RunID: runID, Source: source, Version: version}
	switch source.Kind() {
	case session.SourceRemote:
		result.Archive, result.Size, err = p.download(ctx, runID, source.Location(), version)
	default:
		result.Archive, result.Size, err = p.checkLocal(ctx, source.Location())
	}
	if err == nil {
		result.Image, err = p.resolveImage(result.Archive)
	}
	if err != nil {
		err = session.AcquisitionError("acquire", err)
		p.fail(ctx, err)
		return Result{}, err
	}

	status, err = p.mutate(ctx, func(s *session.Session) error {
		if err := s.DownloadStatus.Transition(session.DownloadComplete); err != nil {
			return err
		}
		s.DownloadStatus.Log = session.LogLine("firmware ready: " + filepath.Base(result.Image))
		s.Size = result.Size
		return nil
	})
	if err != nil {
		err = session.AcquisitionError("acquire", err)
		p.fail(ctx, err)
		return Result{}, err
	}
	p.publish(ctx, status)

	logger.Info("firmware acquisition complete",
		logging.String(logging.FieldEventType, "acquire_complete"),
		logging.String("image", result.Image),
		logging.Uint64("size", result.Size),
	)
	if p.notifier != nil && source.Kind() == session.SourceRemote {
		if err := p.notifier.NotifyDownloadComplete(ctx, filepath.Base(result.Archive), result.Size); err != nil {
			logger.Debug("download notification failed", logging.Error(err))
		}
	}
	return result, nil
}

// mutate applies fn under exclusive access and returns the resulting status.
func (p *Pipeline) mutate(ctx context.Context, fn func(*session.Session) error) (session.DownloadStatus, error) {
	var status session.DownloadStatus
	err := p.store.Update(ctx, func(s *session.Session) error {
		if err := fn(s); err != nil {
			return err
		}
		status = s.DownloadStatus
		return nil
	})
	return status, err
}

func (p *Pipeline) publish(ctx context.Context, status session.DownloadStatus) {
	if p.publisher == nil {
		return
	}
	p.publisher.PublishStatus(ctx, session.DownloadingStatus(status))
}

// fail moves the run to Error and publishes it. It still runs when ctx has
// been cancelled.
func (p *Pipeline) fail(ctx context.Context, cause error) {
	message := failureMessage(ctx, cause)
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	status, err := p.mutate(finalCtx, func(s *session.Session) error {
		return s.DownloadStatus.Fail(message)
	})
	logger := logging.WithContext(ctx, p.logger)
	if err != nil {
		logger.Warn("could not record acquisition failure",
			logging.Error(err),
			logging.String(logging.FieldEventType, "acquire_fail_unrecorded"),
			logging.String(logging.FieldErrorHint, "session was not in a failable state"),
			logging.String(logging.FieldImpact, "observer may not see the failure"),
		)
		return
	}
	p.publish(finalCtx, status)
	logging.ErrorWithContext(logger, "firmware acquisition failed", "acquire_failed",
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, services.Hint(cause)),
		logging.String(logging.FieldImpact, "firmware was not flashed"),
	)
}

func failureMessage(ctx context.Context, err error) string {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	if errors.Is(err, session.ErrNoSourceSelected) {
		return session.ErrNoSourceSelected.Error()
	}
	var classified *session.Error
	if errors.As(err, &classified) && classified.Err != nil {
		return classified.Err.Error()
	}
	return err.Error()
}

func (p *Pipeline) checkLocal(ctx context.Context, path string) (string, uint64, error) {
	size, err := CheckLocal(path)
	if err != nil {
		return "", 0, err
	}
	if err := p.advance(ctx, size, size, nil, true); err != nil {
		return "", 0, err
	}
	return path, size, nil
}

func (p *Pipeline) resolveImage(archive string) (string, error) {
	if !strings.EqualFold(filepath.Ext(archive), ".zip") {
		return archive, nil
	}
	dest := filepath.Join(p.cfg.DownloadDir, strings.TrimSuffix(filepath.Base(archive), filepath.Ext(archive)))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("create extraction dir: %w", err)
	}
	return ExtractImage(archive, p.cfg.ImageVariant, dest)
}

// progressGate decides which byte-progress updates are published.
type progressGate struct {
	interval  time.Duration
	last      time.Time
	published bool
	sampler   *logging.ProgressSampler
}

// advance records progress and publishes it when due. The first update and
// forced updates are always published.
func (p *Pipeline) advance(ctx context.Context, bytes, size uint64, gate *progressGate, force bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	status, err := p.mutate(ctx, func(s *session.Session) error {
		if err := s.DownloadStatus.Advance(bytes, size); err != nil {
			return err
		}
		s.Size = s.DownloadStatus.Size
		return nil
	})
	if err != nil {
		return err
	}
	if gate == nil {
		p.publish(ctx, status)
		return nil
	}
	now := time.Now()
	if force || !gate.published || now.Sub(gate.last) >= gate.interval {
		gate.published = true
		gate.last = now
		p.publish(ctx, status)
	}
	if percent := logging.Percent(bytes, status.Size); gate.sampler.ShouldLog(percent, "download") {
		logging.WithContext(ctx, p.logger).Info("download progress",
			logging.String(logging.FieldEventType, "download_progress"),
			logging.Float64("percent", percent),
			logging.Uint64("bytes", bytes),
		)
	}
	return nil
}
