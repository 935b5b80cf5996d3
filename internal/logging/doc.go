// Package logging assembles the structured slog loggers used across
// Flywheel components.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so runner code can tag log
// lines with run and job identifiers automatically. A no-op logger is
// provided for tests and wiring code that cannot fail.
package logging
