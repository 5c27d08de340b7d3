// Package recycle implements the tracked trash used by verification and
// publish: library files are moved aside with a logged origin instead of
// being deleted, so any reconciliation decision can be undone by hand.
package recycle
