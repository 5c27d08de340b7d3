// Package publish projects cache state into per-entity library directories:
// selected asset candidates are copied out of the content-addressed cache
// under a fixed naming template, and an NFO is rendered from the entity's
// current fields. Publishing is idempotent and tolerates per-asset failure.
package publish
