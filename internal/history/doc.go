// Package history persists finished flashes in SQLite so the CLI can report
// what was written to which board and when.
package history
