package publish_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"curator/internal/assetcache"
	"curator/internal/catalog"
	"curator/internal/services"
)

// fakeDownloader serves canned bytes per URL straight into the cache,
// mirroring the real downloader's reference handling.
type fakeDownloader struct {
	cache    *assetcache.Cache
	catalog  *catalog.Store
	payloads map[string][]byte
}

func (d *fakeDownloader) DownloadCandidate(ctx context.Context, candidate *catalog.AssetCandidate) (*assetcache.Blob, error) {
	data, ok := d.payloads[candidate.URL]
	if !ok {
		return nil, services.Wrap(services.ErrNetwork, "providers", "download", fmt.Sprintf("no payload for %s", candidate.URL), nil)
	}
	blob, _, err := d.cache.Store(ctx, data, candidate.AssetType, ".jpg")
	if err != nil {
		return nil, err
	}
	if err := d.cache.IncrementRef(ctx, blob.ContentHash); err != nil {
		return nil, err
	}
	if err := d.catalog.MarkCandidateDownloaded(ctx, candidate.ID, blob.ContentHash); err != nil {
		return nil, err
	}
	candidate.IsDownloaded = true
	candidate.ContentHash = blob.ContentHash
	return blob, nil
}

func mustUpsert(t *testing.T, f *fixture, assetType, url string, score float64) *catalog.AssetCandidate {
	t.Helper()
	candidate := &catalog.AssetCandidate{
		EntityType: f.entity.EntityType,
		EntityID:   f.entity.ID,
		AssetType:  assetType,
		Provider:   "artdb",
		URL:        url,
		Score:      score,
	}
	if _, err := f.catalog.UpsertCandidate(context.Background(), candidate); err != nil {
		t.Fatalf("upsert candidate: %v", err)
	}
	return candidate
}

func TestReplaceAssetSetSavesSelectionsAndLocksFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	downloader := &fakeDownloader{
		cache:   f.cache,
		catalog: f.catalog,
		payloads: map[string][]byte{
			"https://artdb.example/P.jpg": []byte("poster content"),
			"https://artdb.example/F.jpg": []byte("fanart content"),
		},
	}

	poster := mustUpsert(t, f, "poster", "https://artdb.example/P.jpg", 8)
	fanart := mustUpsert(t, f, "fanart", "https://artdb.example/F.jpg", 7)

	posterResult, err := f.publisher.ReplaceAssetSet(ctx, f.entity, "poster", []int64{poster.ID}, 3, downloader)
	if err != nil {
		t.Fatalf("replace poster: %v", err)
	}
	fanartResult, err := f.publisher.ReplaceAssetSet(ctx, f.entity, "fanart", []int64{fanart.ID}, 3, downloader)
	if err != nil {
		t.Fatalf("replace fanart: %v", err)
	}
	if len(posterResult.Added) != 1 || len(fanartResult.Added) != 1 {
		t.Fatalf("expected both candidates downloaded, got %+v and %+v", posterResult, fanartResult)
	}

	// Two distinct blobs exist.
	posterRow, err := f.catalog.CandidateByID(ctx, poster.ID)
	if err != nil {
		t.Fatalf("reload poster: %v", err)
	}
	fanartRow, err := f.catalog.CandidateByID(ctx, fanart.ID)
	if err != nil {
		t.Fatalf("reload fanart: %v", err)
	}
	if posterRow.ContentHash == "" || fanartRow.ContentHash == "" {
		t.Fatal("expected both candidates linked to cache content")
	}
	if posterRow.ContentHash == fanartRow.ContentHash {
		t.Fatal("expected distinct content hashes")
	}

	// Both are selected for their asset types.
	selected, err := f.catalog.SelectedCandidates(ctx, f.entity.EntityType, f.entity.ID)
	if err != nil {
		t.Fatalf("selected: %v", err)
	}
	if len(selected) != 2 {
		t.Fatalf("expected 2 selections, got %d", len(selected))
	}

	// Both asset-type fields are locked against automation.
	reloaded, err := f.catalog.EntityByID(ctx, f.entity.EntityType, f.entity.ID)
	if err != nil {
		t.Fatalf("reload entity: %v", err)
	}
	if !reloaded.FieldLocked("poster") || !reloaded.FieldLocked("fanart") {
		t.Fatalf("expected poster and fanart locked, got %v", reloaded.LockedFields)
	}
	if !reloaded.HasUnpublishedChanges {
		t.Fatal("replace should flag unpublished changes")
	}
}

func TestReplaceAssetSetRemovesAndReleasesOldCandidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	downloader := &fakeDownloader{
		cache:   f.cache,
		catalog: f.catalog,
		payloads: map[string][]byte{
			"https://artdb.example/old.jpg": []byte("old poster"),
			"https://artdb.example/new.jpg": []byte("new poster"),
		},
	}

	old := mustUpsert(t, f, "poster", "https://artdb.example/old.jpg", 5)
	if _, err := downloader.DownloadCandidate(ctx, old); err != nil {
		t.Fatalf("download old: %v", err)
	}
	oldHash := old.ContentHash
	replacement := mustUpsert(t, f, "poster", "https://artdb.example/new.jpg", 9)

	result, err := f.publisher.ReplaceAssetSet(ctx, f.entity, "poster", []int64{replacement.ID}, 3, downloader)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if len(result.Removed) != 1 || result.Removed[0] != old.ID {
		t.Fatalf("expected old candidate removed, got %+v", result)
	}
	if result.Selected != replacement.ID {
		t.Fatalf("expected replacement selected, got %d", result.Selected)
	}

	gone, err := f.catalog.CandidateByID(ctx, old.ID)
	if err != nil {
		t.Fatalf("lookup old: %v", err)
	}
	if gone != nil {
		t.Fatal("expected old candidate deleted")
	}
	blob, err := f.cache.Get(ctx, oldHash)
	if err != nil {
		t.Fatalf("get old blob: %v", err)
	}
	if blob.ReferenceCount != 0 || blob.OrphanedAt == nil {
		t.Fatalf("expected old blob released to orphan state, got %+v", blob)
	}
}

func TestReplaceAssetSetEnforcesPerTypeLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := make([]int64, 0, 4)
	for i := 0; i < 4; i++ {
		candidate := mustUpsert(t, f, "poster", fmt.Sprintf("https://artdb.example/%d.jpg", i), float64(i))
		ids = append(ids, candidate.ID)
	}

	_, err := f.publisher.ReplaceAssetSet(ctx, f.entity, "poster", ids, 3, nil)
	if !errors.Is(err, services.ErrExhausted) {
		t.Fatalf("expected resource-exhausted error, got %v", err)
	}
}

func TestReplaceAssetSetRejectsForeignCandidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fanart := mustUpsert(t, f, "fanart", "https://artdb.example/f.jpg", 5)
	_, err := f.publisher.ReplaceAssetSet(ctx, f.entity, "poster", []int64{fanart.ID}, 3, nil)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found for wrong asset type, got %v", err)
	}
}
