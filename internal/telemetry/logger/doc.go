// Package logger provides structured logging for chainstate.
//
// It wraps log/slog with JSON or text output, one process-wide level that
// can be changed at runtime, and context helpers for request and trace IDs.
//
// Components take a plain *slog.Logger in their Config; build it with
// NewSlog. Byte slices in attributes are rendered as hex and long ones
// are truncated.
package logger
