package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"curator/internal/assetcache"
	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/providers"
	"curator/internal/publish"
	"curator/internal/queue"
	"curator/internal/services"
	"curator/internal/testsupport"
	"curator/internal/workflow"
)

type stubProvider struct {
	name   string
	assets []providers.Asset
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Capabilities() providers.Capabilities {
	return providers.Capabilities{
		EntityTypes: []catalog.EntityType{catalog.EntityMovie},
		AssetTypes:  []string{"poster", "fanart"},
	}
}

func (s *stubProvider) Search(ctx context.Context, query string, year int) ([]providers.SearchResult, error) {
	return []providers.SearchResult{{ProviderResultID: "r1", Title: query, Year: year, Confidence: 0.9}}, nil
}

func (s *stubProvider) GetMetadata(ctx context.Context, id string, fields []string) (*providers.Metadata, error) {
	return &providers.Metadata{Fields: map[string]string{}}, nil
}

func (s *stubProvider) GetAssets(ctx context.Context, id string, assetTypes []string) ([]providers.Asset, error) {
	return s.assets, nil
}

// cacheDownloader serves canned bytes per URL straight into the cache, the
// same way the real downloader settles references.
type cacheDownloader struct {
	cache    *assetcache.Cache
	catalog  *catalog.Store
	payloads map[string][]byte
}

func (d *cacheDownloader) DownloadCandidate(ctx context.Context, candidate *catalog.AssetCandidate) (*assetcache.Blob, error) {
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

type enrichFixture struct {
	cfg     *config.Config
	store   *catalog.Store
	cache   *assetcache.Cache
	handler *workflow.EnrichHandler
	entity  *catalog.Entity
}

func newEnrichFixture(t *testing.T, provider *stubProvider, payloads map[string][]byte) *enrichFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)

	cache, err := assetcache.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	registry := providers.NewRegistry()
	if err := registry.Register(provider); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	fetcher := providers.NewFetcher(cfg, registry, store, logging.NewNop())
	downloader := &cacheDownloader{cache: cache, catalog: store, payloads: payloads}

	entity := &catalog.Entity{
		EntityType:    catalog.EntityMovie,
		Title:         "Moon",
		Year:          2009,
		MediaPath:     "/library/movies/Moon (2009)",
		MediaFilename: "Moon.mkv",
		Monitored:     true,
	}
	if err := store.CreateEntity(context.Background(), entity); err != nil {
		t.Fatalf("create entity: %v", err)
	}

	return &enrichFixture{
		cfg:     cfg,
		store:   store,
		cache:   cache,
		handler: workflow.NewEnrichHandler(cfg, store, fetcher, downloader, logging.NewNop()),
		entity:  entity,
	}
}

func (f *enrichFixture) execute(t *testing.T, assetTypes []string) *workflow.Outcome {
	t.Helper()
	payload := queue.EnrichMetadataPayload{
		EntityType: string(f.entity.EntityType),
		EntityID:   f.entity.ID,
		AssetTypes: assetTypes,
	}
	outcome, err := f.handler.Execute(context.Background(), &queue.Job{Type: queue.TypeEnrichMetadata}, payload)
	if err != nil {
		t.Fatalf("execute enrich: %v", err)
	}
	return outcome
}

func TestEnrichHandlerAutoSelectsAndDownloadsBestCandidate(t *testing.T) {
	provider := &stubProvider{
		name: "artdb",
		assets: []providers.Asset{
			{AssetType: "poster", URL: "https://artdb.example/low.jpg", VoteAverage: 5, Votes: 50},
			{AssetType: "poster", URL: "https://artdb.example/high.jpg", VoteAverage: 9, Votes: 400},
		},
	}
	f := newEnrichFixture(t, provider, map[string][]byte{
		"https://artdb.example/high.jpg": []byte("winning poster bytes"),
	})
	f.cfg.Workflow.AutoSelect = "auto"
	ctx := context.Background()

	outcome := f.execute(t, []string{"poster"})
	if len(outcome.Continuations) != 1 || outcome.Continuations[0].EntityID != f.entity.ID {
		t.Fatalf("expected one continuation for the entity, got %+v", outcome.Continuations)
	}

	selected, err := f.store.SelectedCandidates(ctx, f.entity.EntityType, f.entity.ID)
	if err != nil {
		t.Fatalf("selected candidates: %v", err)
	}
	if len(selected) != 1 {
		t.Fatalf("expected exactly one selection, got %d", len(selected))
	}
	winner := selected[0]
	if winner.URL != "https://artdb.example/high.jpg" {
		t.Fatalf("expected the higher-scored candidate, got %s", winner.URL)
	}
	if !winner.IsDownloaded || winner.ContentHash == "" {
		t.Fatalf("selection must be downloaded, got %+v", winner)
	}
	blob, err := f.cache.Get(ctx, winner.ContentHash)
	if err != nil {
		t.Fatalf("cached blob: %v", err)
	}
	if blob.ReferenceCount != 1 {
		t.Fatalf("downloaded candidate should hold one reference, got %d", blob.ReferenceCount)
	}

	reloaded, err := f.store.EntityByID(ctx, f.entity.EntityType, f.entity.ID)
	if err != nil {
		t.Fatalf("reload entity: %v", err)
	}
	if !reloaded.HasUnpublishedChanges {
		t.Fatal("a new selection must flag unpublished changes")
	}
}

func TestEnrichHandlerReviewModePersistsWithoutSelecting(t *testing.T) {
	provider := &stubProvider{
		name:   "artdb",
		assets: []providers.Asset{{AssetType: "poster", URL: "https://artdb.example/p1.jpg"}},
	}
	f := newEnrichFixture(t, provider, nil)
	f.cfg.Workflow.AutoSelect = "review"
	ctx := context.Background()

	outcome := f.execute(t, []string{"poster"})
	if len(outcome.Continuations) != 0 {
		t.Fatal("review mode must not chain to publish")
	}

	candidates, err := f.store.ListCandidates(ctx, f.entity.EntityType, f.entity.ID, "poster")
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("candidates must still be persisted for review, got %d", len(candidates))
	}
	selected, err := f.store.SelectedCandidates(ctx, f.entity.EntityType, f.entity.ID)
	if err != nil {
		t.Fatalf("selected candidates: %v", err)
	}
	if len(selected) != 0 {
		t.Fatalf("review mode must not select, got %d selections", len(selected))
	}
}

func TestEnrichHandlerKeepsLockedSelection(t *testing.T) {
	provider := &stubProvider{
		name: "artdb",
		assets: []providers.Asset{
			{AssetType: "poster", URL: "https://artdb.example/shiny.jpg", VoteAverage: 9, Votes: 400},
		},
	}
	f := newEnrichFixture(t, provider, map[string][]byte{
		"https://artdb.example/shiny.jpg": []byte("shiny"),
	})
	f.cfg.Workflow.AutoSelect = "auto"
	ctx := context.Background()

	// A manually chosen poster, locked against automation.
	manual := &catalog.AssetCandidate{
		EntityType: f.entity.EntityType,
		EntityID:   f.entity.ID,
		AssetType:  "poster",
		Provider:   "manual",
		URL:        "https://example.com/my-poster.jpg",
		Score:      1,
	}
	if _, err := f.store.UpsertCandidate(ctx, manual); err != nil {
		t.Fatalf("upsert manual candidate: %v", err)
	}
	if err := f.store.SelectCandidate(ctx, manual.ID); err != nil {
		t.Fatalf("select manual candidate: %v", err)
	}
	if err := f.store.LockField(ctx, f.entity.EntityType, f.entity.ID, "poster"); err != nil {
		t.Fatalf("lock poster: %v", err)
	}

	f.execute(t, []string{"poster"})

	selected, err := f.store.SelectedCandidates(ctx, f.entity.EntityType, f.entity.ID)
	if err != nil {
		t.Fatalf("selected candidates: %v", err)
	}
	if len(selected) != 1 || selected[0].ID != manual.ID {
		t.Fatalf("locked field must keep the manual selection, got %+v", selected)
	}
}

func TestEnrichHandlerSkipsUnmonitoredEntity(t *testing.T) {
	provider := &stubProvider{
		name:   "artdb",
		assets: []providers.Asset{{AssetType: "poster", URL: "https://artdb.example/p1.jpg"}},
	}
	f := newEnrichFixture(t, provider, nil)
	ctx := context.Background()

	if err := f.store.SetMonitored(ctx, f.entity.EntityType, f.entity.ID, false); err != nil {
		t.Fatalf("unmonitor: %v", err)
	}

	outcome := f.execute(t, []string{"poster"})
	if len(outcome.Continuations) != 0 {
		t.Fatal("unmonitored entity must not continue the chain")
	}
	candidates, err := f.store.ListCandidates(ctx, f.entity.EntityType, f.entity.ID, "")
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("unmonitored entity must not be enriched, got %d candidates", len(candidates))
	}
}

func TestPublishHandlerReportsPartialFailureAsRetryable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	cache, err := assetcache.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	ctx := context.Background()

	entity := &catalog.Entity{
		EntityType:    catalog.EntityMovie,
		Title:         "Sunshine",
		Year:          2007,
		MediaPath:     t.TempDir(),
		MediaFilename: "Sunshine.mkv",
		Monitored:     true,
	}
	if err := store.CreateEntity(ctx, entity); err != nil {
		t.Fatalf("create entity: %v", err)
	}

	// Selected but never downloaded: publish cannot place it.
	candidate := &catalog.AssetCandidate{
		EntityType: entity.EntityType,
		EntityID:   entity.ID,
		AssetType:  "poster",
		Provider:   "artdb",
		URL:        "https://artdb.example/p1.jpg",
	}
	if _, err := store.UpsertCandidate(ctx, candidate); err != nil {
		t.Fatalf("upsert candidate: %v", err)
	}
	if err := store.SelectCandidate(ctx, candidate.ID); err != nil {
		t.Fatalf("select candidate: %v", err)
	}

	publisher := publish.NewPublisher(cache, store, publish.XMLRenderer{}, logging.NewNop())
	handler := workflow.NewPublishHandler(store, publisher, logging.NewNop())

	_, err = handler.Execute(ctx, &queue.Job{Type: queue.TypePublish}, queue.PublishPayload{
		EntityType: string(entity.EntityType),
		EntityID:   entity.ID,
	})
	if err == nil {
		t.Fatal("expected partial publish failure to surface as an error")
	}
	if !services.Retryable(err) {
		t.Fatalf("partial publish failure must be retryable, got %v", err)
	}
	if errors.Is(err, services.ErrValidation) {
		t.Fatalf("unexpected marker on %v", err)
	}
}
