package flash

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"m8flash/internal/logging"
	"m8flash/internal/services"
	"m8flash/internal/session"
	"m8flash/internal/task"
)

// ErrFlashInFlight rejects a flash while another is running.
var ErrFlashInFlight = errors.New("firmware flash already in flight")

// ErrNoTarget reports that no board could be chosen.
var ErrNoTarget = errors.New("no board available to flash")

// Updater writes an image to a board, reporting progress through onProgress.
// It is invoked at most once per flash.
type Updater interface {
	UpdateFirmware(ctx context.Context, imagePath, boardTag string, onProgress func(session.UpdateStatus)) error
}

// Publisher receives every status change in transition order.
type Publisher interface {
	PublishStatus(ctx context.Context, status session.FlashingStatus)
}

// Record is one finished flash.
type Record struct {
	RunID      string
	Board      string
	Image      string
	Version    string
	Outcome    session.Outcome
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Recorder persists finished flashes.
type Recorder interface {
	RecordFlash(ctx context.Context, record Record) error
}

// Notifier announces finished flashes.
type Notifier interface {
	NotifyFlashSucceeded(ctx context.Context, board, version string) error
	NotifyFlashFailed(ctx context.Context, board string, err error) error
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logging.NewComponentLogger(logger, "flash")
	}
}

// WithFinalizeWait sets how long to wait for the board to reboot after the
// image is written.
func WithFinalizeWait(d time.Duration) Option {
	return func(p *Pipeline) {
		if d >= 0 {
			p.finalize = d
		}
	}
}

// WithCapability sets the capability a board must advertise to be picked
// automatically.
func WithCapability(name string) Option {
	return func(p *Pipeline) {
		if name != "" {
			p.capability = name
		}
	}
}

// WithRecorder persists every finished flash.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithNotifier announces every finished flash.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) {
		p.notifier = n
	}
}

// Pipeline runs at most one flash at a time.
type Pipeline struct {
	store      *session.Store
	updater    Updater
	publisher  Publisher
	logger     *slog.Logger
	finalize   time.Duration
	capability string
	recorder   Recorder
	notifier   Notifier
	slot       task.Slot
}

// New constructs a flashing pipeline.
func New(store *session.Store, updater Updater, publisher Publisher, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:      store,
		updater:    updater,
		publisher:  publisher,
		logger:     logging.NewComponentLogger(logging.NewNop(), "flash"),
		finalize:   3 * time.Second,
		capability: "upload",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Busy reports whether a flash is running.
func (p *Pipeline) Busy() bool {
	return p.slot.Busy()
}

// Task returns the most recent flash handle.
func (p *Pipeline) Task() *task.Task {
	return p.slot.Current()
}

// Start launches a flash of image to board and returns immediately. An empty
// board selects the target from the session.
func (p *Pipeline) Start(ctx context.Context, image, board string) (*task.Task, error) {
	runID := uuid.NewString()
	handle, err := p.slot.Start(ctx, "flash", func(ctx context.Context) error {
		return p.run(logging.WithRunID(ctx, runID), runID, image, board)
	})
	if errors.Is(err, task.ErrBusy) {
		return nil, ErrFlashInFlight
	}
	return handle, err
}

// Flash runs a flash and waits for it to finish.
func (p *Pipeline) Flash(ctx context.Context, image, board string) error {
	handle, err := p.Start(ctx, image, board)
	if err != nil {
		return err
	}
	<-handle.Done()
	return handle.Err()
}

// SelectTarget picks the board to flash: the one selected in the session, or
// the only online board advertising the upload capability.
func SelectTarget(s *session.Session, capability string) (string, error) {
	if s.SelectedBoard != "" {
		dev, ok := s.FindDevice(s.SelectedBoard)
		if !ok {
			return "", fmt.Errorf("selected board %s is not connected", s.SelectedBoard)
		}
		if dev.State != session.DeviceOnline {
			return "", fmt.Errorf("selected board %s is %s", s.SelectedBoard, dev.State)
		}
		return boardTag(dev), nil
	}
	var candidates []session.DeviceInfo
	for _, dev := range s.Devices {
		if dev.State == session.DeviceOnline && dev.HasCapability(capability) {
			candidates = append(candidates, dev)
		}
	}
	switch len(candidates) {
	case 0:
		return "", ErrNoTarget
	case 1:
		return boardTag(candidates[0]), nil
	default:
		return "", fmt.Errorf("%d boards can be flashed; select one", len(candidates))
	}
}

func boardTag(dev session.DeviceInfo) string {
	if dev.Tag != "" {
		return dev.Tag
	}
	return dev.Identity()
}

// run drives one flash. Every failure is published as an Error status before
// run returns.
func (p *Pipeline) run(ctx context.Context, runID, image, board string) error {
	started := time.Now()
	record := Record{RunID: runID, Image: image, Board: board, StartedAt: started}

	var selectErr error
	status, err := p.mutate(ctx, func(s *session.Session) error {
		s.UpdateStatus.Rearm()
		record.Version = s.Version
		if err := s.UpdateStatus.Transition(session.UpdateStarting); err != nil {
			return err
		}
		s.UpdateStatus.Log = nil
		if board == "" {
			board, selectErr = SelectTarget(s, p.capability)
		}
		return nil
	})
	if err != nil {
		return session.FlashingError("flash", err)
	}
	p.publish(ctx, status)
	if selectErr != nil {
		return p.fail(ctx, &record, session.FlashingError("select target", selectErr))
	}
	record.Board = board
	ctx = logging.WithBoard(ctx, board)
	logger := logging.WithContext(ctx, p.logger)
	logger.Info("firmware flash started",
		logging.String(logging.FieldEventType, "flash_started"),
		logging.String("image", image),
	)

	status, err = p.mutate(ctx, func(s *session.Session) error {
		if err := s.UpdateStatus.Transition(session.UpdateUpdating); err != nil {
			return err
		}
		s.UpdateStatus.Log = session.LogLine(fmt.Sprintf("flashing %s to %s", filepath.Base(image), board))
		return nil
	})
	if err != nil {
		return p.fail(ctx, &record, session.FlashingError("flash", err))
	}
	p.publish(ctx, status)

	progress := &progressSink{pipeline: p, ctx: ctx, logger: logger}
	err = p.updater.UpdateFirmware(ctx, image, board, progress.report)
	finalizing := progress.close()
	if err != nil {
		return p.fail(ctx, &record, session.FlashingError("update firmware", err))
	}

	if !finalizing {
		status, err = p.mutate(ctx, func(s *session.Session) error {
			if err := s.UpdateStatus.Transition(session.UpdateFinalizing); err != nil {
				return err
			}
			s.UpdateStatus.Log = session.LogLine("waiting for the board to restart")
			return nil
		})
		if err != nil {
			return p.fail(ctx, &record, session.FlashingError("finalize", err))
		}
		p.publish(ctx, status)
	}

	if p.finalize > 0 {
		timer := time.NewTimer(p.finalize)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return p.fail(ctx, &record, session.FlashingError("finalize", ctx.Err()))
		}
	}

	record.Outcome = session.OutcomeSucceeded
	record.Message = completeMessage
	record.FinishedAt = time.Now()
	status, err = p.mutate(ctx, func(s *session.Session) error {
		if err := s.UpdateStatus.Transition(session.UpdateStopped); err != nil {
			return err
		}
		s.UpdateStatus.Log = session.LogLine(completeMessage)
		s.LastUpdate = outcomeOf(record)
		return nil
	})
	if err != nil {
		return p.fail(ctx, &record, session.FlashingError("complete", err))
	}
	p.publish(ctx, status)

	logger.Info("firmware flash complete",
		logging.String(logging.FieldEventType, "flash_complete"),
		logging.Duration("elapsed", record.FinishedAt.Sub(started).Round(time.Millisecond)),
	)
	p.finish(ctx, record, nil)
	return nil
}

const completeMessage = "firmware update complete"

func outcomeOf(record Record) *session.UpdateOutcome {
	return &session.UpdateOutcome{
		Outcome:    record.Outcome,
		Board:      record.Board,
		Version:    record.Version,
		Message:    record.Message,
		FinishedAt: record.FinishedAt,
	}
}

// fail records cause as an Error status and returns it. It still runs when
// ctx has been cancelled.
func (p *Pipeline) fail(ctx context.Context, record *Record, cause error) error {
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	message := failureMessage(ctx, cause)
	record.Outcome = session.OutcomeFailed
	record.Message = message
	record.FinishedAt = time.Now()

	status, err := p.mutate(finalCtx, func(s *session.Session) error {
		if err := s.UpdateStatus.Transition(session.UpdateError); err != nil {
			return err
		}
		s.UpdateStatus.Log = session.LogLine(message)
		s.LastUpdate = outcomeOf(*record)
		return nil
	})
	logger := logging.WithContext(ctx, p.logger)
	if err != nil {
		logger.Warn("could not record flash failure",
			logging.Error(err),
			logging.String(logging.FieldEventType, "flash_fail_unrecorded"),
			logging.String(logging.FieldErrorHint, "update status was not in a failable state"),
			logging.String(logging.FieldImpact, "observer may not see the failure"),
		)
		return cause
	}
	p.publish(finalCtx, status)
	logging.ErrorWithContext(logger, "firmware flash failed", "flash_failed",
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, services.Hint(cause)),
		logging.String(logging.FieldImpact, "board keeps its previous firmware or needs a manual reset"),
	)
	p.finish(finalCtx, *record, cause)
	return cause
}

func failureMessage(ctx context.Context, err error) string {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	var classified *session.Error
	if errors.As(err, &classified) && classified.Err != nil {
		return classified.Err.Error()
	}
	return err.Error()
}

// finish hands a finished flash to the recorder and notifier.
func (p *Pipeline) finish(ctx context.Context, record Record, cause error) {
	logger := logging.WithContext(ctx, p.logger)
	if p.recorder != nil {
		if err := p.recorder.RecordFlash(ctx, record); err != nil {
			logger.Warn("could not record flash history",
				logging.Error(err),
				logging.String(logging.FieldEventType, "history_write_failed"),
				logging.String(logging.FieldErrorHint, "check the data directory is writable"),
				logging.String(logging.FieldImpact, "flash missing from history"),
			)
		}
	}
	if p.notifier == nil {
		return
	}
	var err error
	if cause == nil {
		err = p.notifier.NotifyFlashSucceeded(ctx, record.Board, record.Version)
	} else {
		err = p.notifier.NotifyFlashFailed(ctx, record.Board, cause)
	}
	if err != nil {
		logger.Debug("flash notification failed", logging.Error(err))
	}
}

func (p *Pipeline) mutate(ctx context.Context, fn func(*session.Session) error) (session.UpdateStatus, error) {
	var status session.UpdateStatus
	err := p.store.Update(ctx, func(s *session.Session) error {
		if err := fn(s); err != nil {
			return err
		}
		status = s.UpdateStatus
		return nil
	})
	return status, err
}

func (p *Pipeline) publish(ctx context.Context, status session.UpdateStatus) {
	if p.publisher != nil {
		p.publisher.PublishStatus(ctx, session.UpdatingStatus(status))
	}
}

// progressSink serializes updater callbacks, which may arrive from several
// goroutines, so each merge and its publish happen together.
type progressSink struct {
	mu         sync.Mutex
	pipeline   *Pipeline
	ctx        context.Context
	logger     *slog.Logger
	closed     bool
	finalizing bool
}

func (s *progressSink) report(reported session.UpdateStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ctx.Err() != nil {
		return
	}
	switch reported.State {
	case session.UpdateUpdating:
		if reported.Log == nil || *reported.Log == "" {
			s.drop(reported, errors.New("empty progress log"))
			return
		}
	case session.UpdateFinalizing:
	default:
		// Starting, Stopped and Error are driven by run and fail only.
		s.drop(reported, fmt.Errorf("updater may not report %q", reported.State))
		return
	}
	status, err := s.pipeline.mutate(s.ctx, func(sess *session.Session) error {
		return sess.UpdateStatus.Merge(reported)
	})
	if err != nil {
		s.drop(reported, err)
		return
	}
	if status.State == session.UpdateFinalizing {
		s.finalizing = true
	}
	s.pipeline.publish(s.ctx, status)
}

func (s *progressSink) drop(reported session.UpdateStatus, err error) {
	s.logger.Warn("dropping updater progress",
		logging.Error(err),
		logging.String("reported_state", string(reported.State)),
		logging.String(logging.FieldEventType, "flash_progress_dropped"),
		logging.String(logging.FieldErrorHint, "updater reported a state outside the flashing sequence"),
		logging.String(logging.FieldImpact, "one progress line not shown"),
	)
}

// close stops accepting callbacks and reports whether the updater reached
// Finalizing.
func (s *progressSink) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.finalizing
}
