// Package logging assembles the structured slog loggers used by m8flash.
//
// It owns the console and JSON handlers, the standard field keys shared by
// the pipelines and the device watcher, and helpers that enforce the
// event_type/error_hint/impact convention on warnings and errors. Run
// identifiers, board tags and command names carried on a context are added
// to log lines by WithContext. NewNop gives tests and optional wiring a
// logger that never fails.
package logging
