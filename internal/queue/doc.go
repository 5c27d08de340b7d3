// Package queue implements the SQLite-backed priority job queue that drives
// the workflow. Jobs carry typed payloads validated at enqueue time, are
// claimed atomically by competing workers, retried with a growing delay, and
// archived to a bounded history table when they finish.
package queue
