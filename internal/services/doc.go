// Package services defines cross-cutting service primitives shared by the
// workflow phases: the error taxonomy used for retry classification and the
// context keys that thread job identity through logging.
package services
