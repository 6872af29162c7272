// Package notifications announces finished jobs through ntfy.
//
// NewNotifier returns a noop implementation when no topic is configured so
// callers can always notify unconditionally.
package notifications
