// Package logging assembles structured slog loggers and formatting helpers used
// across skein.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes helpers so worker and handler code tag log lines with
// the component, feed URL, and session that produced them. A no-op logger is
// available for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so the interface and
// the worker child emit records with the same shape.
package logging
