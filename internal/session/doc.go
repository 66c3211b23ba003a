// Package session holds the single shared state container for a firmware
// transfer: the selected archive source and version, download and update
// progress, and the current device list.
//
// The Store serializes every read and write behind a context-aware exclusive
// lock. Callers acquire access, mutate, release, and only then perform I/O or
// publish; the package itself never publishes. Download and update statuses
// enforce their state machines so no component can reach a terminal-looking
// state without following a legal edge.
package session
