// Package workflow drives the automation pipeline: a pool of workers polls
// the job queue and dispatches jobs to phase handlers. Chain continuation is
// data, not code: the phase graph maps each job type to its successor and the
// config flag that gates it, with manual jobs bypassing the gates.
package workflow
