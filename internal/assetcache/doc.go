// Package assetcache stores downloaded assets under content-addressed,
// sharded paths with reference counting. Blobs are deduplicated by SHA-256,
// never deleted by path, and garbage collected only after an orphan
// retention window.
package assetcache
