// Package flash writes a resolved firmware image to a board through an
// external updater and drives the session update state machine from the
// updater's progress reports.
package flash
