// Package task provides handles for background goroutines: a Task can be
// cancelled, polled for liveness, and awaited for its result. Slot limits an
// activity to one in-flight Task at a time.
package task
