package session

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for logging and observer messages.
type ErrorKind string

const (
	KindSourceSelection  ErrorKind = "source_selection"
	KindAcquisition      ErrorKind = "acquisition"
	KindFlashing         ErrorKind = "flashing"
	KindMalformedCommand ErrorKind = "malformed_command"
	KindBus              ErrorKind = "bus"
)

var (
	// ErrNoSourceSelected reports an acquisition attempt without an archive source.
	ErrNoSourceSelected = errors.New("no firmware source selected")
	// ErrIllegalTransition reports a status change along an undefined edge.
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrDownloadActive reports a source change while a download is running.
	ErrDownloadActive = errors.New("download in progress")
	// ErrGuardReleased reports use of a guard after Release.
	ErrGuardReleased = errors.New("session guard already released")
)

// Error carries a classified failure. Kind maps onto the error taxonomy shared
// by the pipelines, the device watcher, and the event bridge.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorKind returns the classification as a string.
func (e *Error) ErrorKind() string {
	if e == nil {
		return ""
	}
	return string(e.Kind)
}

func newError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// SourceSelectionError wraps a missing or invalid archive source.
func SourceSelectionError(op string, err error) error {
	return newError(KindSourceSelection, op, err)
}

// AcquisitionError wraps network, filesystem, and URL failures.
func AcquisitionError(op string, err error) error {
	return newError(KindAcquisition, op, err)
}

// FlashingError wraps updater failures: disconnects, tool errors, timeouts.
func FlashingError(op string, err error) error {
	return newError(KindFlashing, op, err)
}

// MalformedCommand wraps an inbound payload that failed to parse or validate.
func MalformedCommand(op string, err error) error {
	return newError(KindMalformedCommand, op, err)
}

// BusError wraps device enumeration and watch failures.
func BusError(op string, err error) error {
	return newError(KindBus, op, err)
}

// KindOf returns the classification of err, or "" when unclassified.
func KindOf(err error) ErrorKind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return ""
}
