// Package scanner discovers media files in library directories and registers
// them as catalog entities with their primary content hash.
package scanner
