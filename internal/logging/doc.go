// Package logging wires log/slog with the console and JSON handlers used by
// the daemon and CLI, plus the attribute helpers and context-derived fields
// shared across components.
package logging
