// Package app is the composition root: it wires the session store, device
// watcher, acquisition and flashing pipelines, history, and notifications to
// the event bridge, and registers the shell command handlers.
//
// Start takes the single-instance lock and launches the bridge worker; every
// task started on behalf of a command derives from the context given to
// Start, so a disconnecting shell never cancels a download or flash.
package app
