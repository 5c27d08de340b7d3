// Package catalog persists the media entities the daemon manages, the
// provider asset candidates fetched for them, and the library files the
// publisher has projected. Entities carry monitoring and field-lock state
// that gates automated workflow progression.
package catalog
