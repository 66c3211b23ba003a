package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent names the subsystem emitting the line.
	FieldComponent = "component"
	// FieldEventType is a stable machine-readable event name.
	FieldEventType = "event_type"
	// FieldErrorHint tells an operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldRunID identifies one acquisition or flash run.
	FieldRunID = "run_id"
	// FieldBoard is the tycmd board tag a run targets.
	FieldBoard = "board"
	// FieldCommand is the inbound bridge command name.
	FieldCommand = "command"
	// FieldEvent is the outbound bridge event name.
	FieldEvent = "event"
	// FieldSource is the archive source being acquired.
	FieldSource = "source"
	// FieldVersion is the firmware version label.
	FieldVersion = "version"
)

type contextKey int

const (
	runIDKey contextKey = iota
	boardKey
	commandKey
)

// WithRunID tags ctx with a run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext returns the run identifier stored by WithRunID.
func RunIDFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, runIDKey)
}

// WithBoard tags ctx with a board tag.
func WithBoard(ctx context.Context, tag string) context.Context {
	return context.WithValue(ctx, boardKey, tag)
}

// BoardFromContext returns the board tag stored by WithBoard.
func BoardFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, boardKey)
}

// WithCommand tags ctx with the bridge command being handled.
func WithCommand(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, commandKey, name)
}

// CommandFromContext returns the command stored by WithCommand.
func CommandFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, commandKey)
}

func stringFromContext(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(key).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// ContextFields extracts standard attributes from ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if board, ok := BoardFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldBoard, board))
	}
	if command, ok := CommandFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCommand, command))
	}
	return fields
}

// WithContext returns logger augmented with the fields carried by ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(toArgs(fields)...)
}
