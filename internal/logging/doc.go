// Package logging builds the slog loggers used across curator and provides
// the attribute helpers and context plumbing that keep structured fields
// consistent between the daemon, the workflow phases, and the CLI.
package logging
