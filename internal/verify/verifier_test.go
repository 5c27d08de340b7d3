package verify_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"curator/internal/assetcache"
	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/fileutil"
	"curator/internal/logging"
	"curator/internal/queue"
	"curator/internal/recycle"
	"curator/internal/services"
	"curator/internal/testsupport"
	"curator/internal/verify"
)

type fixture struct {
	cfg      *config.Config
	catalog  *catalog.Store
	cache    *assetcache.Cache
	bin      *recycle.Bin
	queue    *queue.Store
	verifier *verify.Verifier
	entity   *catalog.Entity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	cfg.Players = []config.PlayerGroup{{Name: "living-room", URLs: []string{"http://player.local"}}}

	store := testsupport.MustOpenCatalog(t, cfg)
	jobs := testsupport.MustOpenQueue(t, cfg)
	cache, err := assetcache.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() {
		_ = cache.Close()
	})
	bin, err := recycle.NewBin(cfg.TrashDir, logging.NewNop())
	if err != nil {
		t.Fatalf("open bin: %v", err)
	}

	mediaPath := filepath.Join(cfg.LibraryDir, "movies", "Solaris (1972)")
	if err := os.MkdirAll(mediaPath, 0o755); err != nil {
		t.Fatalf("create media dir: %v", err)
	}
	mediaContent := []byte("primary media bytes")
	if err := os.WriteFile(filepath.Join(mediaPath, "Solaris.mkv"), mediaContent, 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}

	entity := &catalog.Entity{
		EntityType:      catalog.EntityMovie,
		Title:           "Solaris",
		Year:            1972,
		MediaPath:       mediaPath,
		MediaFilename:   "Solaris.mkv",
		PrimaryFileHash: fileutil.HashBytes(mediaContent),
		Monitored:       true,
	}
	if err := store.CreateEntity(ctx, entity); err != nil {
		t.Fatalf("create entity: %v", err)
	}

	return &fixture{
		cfg:      cfg,
		catalog:  store,
		cache:    cache,
		bin:      bin,
		queue:    jobs,
		verifier: verify.New(cfg, store, cache, bin, jobs, logging.NewNop()),
		entity:   entity,
	}
}

// expectFile caches content, records it as an expected library file, and
// optionally writes it to the live directory.
func (f *fixture) expectFile(t *testing.T, name, assetType string, content []byte, writeLive bool) *catalog.LibraryFile {
	t.Helper()
	ctx := context.Background()

	blob, _, err := f.cache.Store(ctx, content, assetType, filepath.Ext(name))
	if err != nil {
		t.Fatalf("store blob: %v", err)
	}
	if err := f.cache.IncrementRef(ctx, blob.ContentHash); err != nil {
		t.Fatalf("increment ref: %v", err)
	}
	file := &catalog.LibraryFile{
		EntityType:  f.entity.EntityType,
		EntityID:    f.entity.ID,
		AssetType:   assetType,
		FilePath:    filepath.Join(f.entity.MediaPath, name),
		ContentHash: blob.ContentHash,
	}
	if err := f.catalog.RecordLibraryFile(ctx, file); err != nil {
		t.Fatalf("record library file: %v", err)
	}
	if writeLive {
		if err := os.WriteFile(file.FilePath, content, 0o644); err != nil {
			t.Fatalf("write live file: %v", err)
		}
	}
	return file
}

func TestVerifyHealsDriftAndSweepsUnauthorizedFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	poster := f.expectFile(t, "poster.jpg", "poster", []byte("authoritative poster"), false)
	nfo := f.expectFile(t, "movie.nfo", "nfo", []byte("<movie/>"), true)

	// Live poster has the wrong bytes; extra.txt is untracked.
	if err := os.WriteFile(poster.FilePath, []byte("tampered poster"), 0o644); err != nil {
		t.Fatalf("write tampered poster: %v", err)
	}
	if err := os.WriteFile(filepath.Join(f.entity.MediaPath, "extra.txt"), []byte("junk"), 0o644); err != nil {
		t.Fatalf("write extra: %v", err)
	}
	nfoBefore, err := os.Stat(nfo.FilePath)
	if err != nil {
		t.Fatalf("stat nfo: %v", err)
	}

	report, err := f.verifier.Verify(ctx, f.entity)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.FilesRestored != 1 {
		t.Fatalf("expected 1 restored, got %d", report.FilesRestored)
	}
	if report.FilesRecycled != 2 {
		t.Fatalf("expected 2 recycled (bad poster and extra.txt), got %d", report.FilesRecycled)
	}
	if report.VideoChanged {
		t.Fatal("primary media did not change")
	}
	if !report.AssetDrift {
		t.Fatal("expected asset drift to be reported")
	}

	// The poster now matches the cache again.
	restoredHash, err := fileutil.HashFile(poster.FilePath)
	if err != nil {
		t.Fatalf("hash restored poster: %v", err)
	}
	if restoredHash != poster.ContentHash {
		t.Fatal("restored poster does not match cache content")
	}

	// The untouched NFO was left alone.
	nfoAfter, err := os.Stat(nfo.FilePath)
	if err != nil {
		t.Fatalf("stat nfo after: %v", err)
	}
	if !nfoAfter.ModTime().Equal(nfoBefore.ModTime()) {
		t.Fatal("expected untouched nfo to keep its mtime")
	}

	// extra.txt went to the bin, not /dev/null.
	if _, err := os.Stat(filepath.Join(f.entity.MediaPath, "extra.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected extra.txt removed from library, stat err=%v", err)
	}
	entries, err := f.bin.Entries()
	if err != nil {
		t.Fatalf("bin entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 recycle entries, got %d", len(entries))
	}

	// Drift without a video change chains a player notify.
	job, err := f.queue.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim chained job: %v", err)
	}
	if job == nil || job.Type != queue.TypeNotifyPlayers {
		t.Fatalf("expected notify-players job, got %+v", job)
	}
}

func TestVerifyRestoresMissingExpectedFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	poster := f.expectFile(t, "poster.jpg", "poster", []byte("poster bytes"), false)

	report, err := f.verifier.Verify(ctx, f.entity)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.FilesRestored != 1 || report.FilesRecycled != 0 {
		t.Fatalf("expected restore without recycle, got %+v", report)
	}
	if _, err := os.Stat(poster.FilePath); err != nil {
		t.Fatalf("expected poster restored: %v", err)
	}
}

func TestVerifyDetectsVideoChangeAndChainsFullPublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(f.entity.MediaPath, "Solaris.mkv"), []byte("remuxed media bytes"), 0o644); err != nil {
		t.Fatalf("rewrite media: %v", err)
	}

	report, err := f.verifier.Verify(ctx, f.entity)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.VideoChanged {
		t.Fatal("expected video change to be detected")
	}

	reloaded, err := f.catalog.EntityByID(ctx, f.entity.EntityType, f.entity.ID)
	if err != nil {
		t.Fatalf("reload entity: %v", err)
	}
	if reloaded.PrimaryFileHash != fileutil.HashBytes([]byte("remuxed media bytes")) {
		t.Fatal("expected stored primary hash to be refreshed")
	}

	job, err := f.queue.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim chained job: %v", err)
	}
	if job == nil || job.Type != queue.TypePublish {
		t.Fatalf("expected publish job, got %+v", job)
	}
	payload, err := queue.DecodePayload(job)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	publishPayload := payload.(queue.PublishPayload)
	if !publishPayload.Full {
		t.Fatal("video change must force a full republish")
	}
}

func TestVerifyMissingPrimaryMediaIsHardError(t *testing.T) {
	f := newFixture(t)
	if err := os.Remove(filepath.Join(f.entity.MediaPath, "Solaris.mkv")); err != nil {
		t.Fatalf("remove media: %v", err)
	}

	_, err := f.verifier.Verify(context.Background(), f.entity)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected hard not-found error, got %v", err)
	}
}

func TestVerifyIgnoresAllowListedFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{".DS_Store", "Thumbs.db", ".hidden"} {
		if err := os.WriteFile(filepath.Join(f.entity.MediaPath, name), []byte("os noise"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	report, err := f.verifier.Verify(ctx, f.entity)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.FilesRecycled != 0 {
		t.Fatalf("allow-listed files must not be recycled, got %d", report.FilesRecycled)
	}

	job, err := f.queue.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job != nil {
		t.Fatalf("clean verification must not chain jobs, got %+v", job)
	}
}
