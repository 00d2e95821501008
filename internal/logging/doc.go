// Package logging configures slog output for the daemon and CLI.
//
// New builds console or JSON handlers writing to stdout, stderr, or files.
// Typed attr helpers keep field names consistent across components, and
// WithContext threads file, task, stage, and correlation identifiers from
// context into structured fields.
package logging
