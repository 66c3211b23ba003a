// Package services defines shared utilities for the external tools m8flash
// drives.
//
// Failures from tool invocations are wrapped with a marker error (external
// tool, timeout, not found, ...) via Wrap, and Hint turns a marked error into
// the short message shown to observers. Tool clients live in subpackages.
package services
