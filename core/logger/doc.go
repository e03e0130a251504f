// Package logger provides the process logger constructor and typed slog
// attribute helpers for the broker domain (channels, subscribers, delivery
// modes). Helpers return an empty Attr for zero values, making them safe to
// use without nil checks.
package logger
