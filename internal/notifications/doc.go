// Package notifications pushes firmware milestones to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// pipelines can call the Service unconditionally. Each milestone can be
// switched off individually in the [notifications] config section.
package notifications
