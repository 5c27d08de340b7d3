package testsupport

import (
	"testing"

	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/queue"
)

// MustOpenQueue opens a queue store against the test config and registers
// cleanup.
func MustOpenQueue(t *testing.T, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open queue store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustOpenCatalog opens a catalog store against the test config and
// registers cleanup.
func MustOpenCatalog(t *testing.T, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(cfg)
	if err != nil {
		t.Fatalf("open catalog store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
