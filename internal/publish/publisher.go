package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"curator/internal/assetcache"
	"curator/internal/catalog"
	"curator/internal/fileutil"
	"curator/internal/logging"
	"curator/internal/services"
)

// NFORenderer generates NFO document bytes from entity state. The concrete
// template lives outside this package; the publisher only places the output.
type NFORenderer interface {
	Render(entity *catalog.Entity, selections []*catalog.AssetCandidate) ([]byte, error)
}

// SavedAsset records one successfully projected file.
type SavedAsset struct {
	AssetType   string
	FilePath    string
	ContentHash string
}

// AssetError records one asset that could not be projected.
type AssetError struct {
	AssetType string
	Err       error
}

// Result is the structured outcome of a publish. Success is false whenever
// any asset failed, but SavedAssets still lists everything that landed.
type Result struct {
	Success     bool
	SavedAssets []SavedAsset
	Errors      []AssetError
}

// Publisher copies selected cache blobs into library directories.
type Publisher struct {
	cache    *assetcache.Cache
	catalog  *catalog.Store
	renderer NFORenderer
	logger   *slog.Logger
}

// NewPublisher wires a publisher from its collaborators.
func NewPublisher(cache *assetcache.Cache, store *catalog.Store, renderer NFORenderer, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{
		cache:    cache,
		catalog:  store,
		renderer: renderer,
		logger:   logger.With(logging.String(logging.FieldComponent, "publish")),
	}
}

// Publish projects every selected candidate plus a rendered NFO into the
// entity's media directory. One asset failing does not abort the rest; the
// result carries both the saved set and the per-asset errors. Re-running with
// identical selections changes nothing observable.
func (p *Publisher) Publish(ctx context.Context, entity *catalog.Entity, full bool) (*Result, error) {
	if entity == nil || entity.ID == 0 {
		return nil, services.Wrap(services.ErrValidation, "publish", "publish", "persisted entity is required", nil)
	}
	if entity.MediaPath == "" || entity.MediaFilename == "" {
		return nil, services.Wrap(services.ErrValidation, "publish", "publish", "entity has no media location", nil)
	}
	if err := os.MkdirAll(entity.MediaPath, 0o755); err != nil {
		return nil, fmt.Errorf("create library directory: %w", err)
	}

	selections, err := p.catalog.SelectedCandidates(ctx, entity.EntityType, entity.ID)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	base := mediaBase(entity.MediaFilename)
	for _, selection := range selections {
		saved, err := p.publishAsset(ctx, entity, base, selection)
		if err != nil {
			result.Errors = append(result.Errors, AssetError{AssetType: selection.AssetType, Err: err})
			p.logger.Warn("asset publish failed",
				logging.Int64(logging.FieldEntityID, entity.ID),
				logging.String("asset_type", selection.AssetType),
				logging.Error(err))
			continue
		}
		result.SavedAssets = append(result.SavedAssets, saved)
	}

	if nfo, err := p.publishNFO(ctx, entity, selections, full); err != nil {
		result.Errors = append(result.Errors, AssetError{AssetType: "nfo", Err: err})
	} else if nfo != nil {
		result.SavedAssets = append(result.SavedAssets, *nfo)
	}

	result.Success = len(result.Errors) == 0
	if result.Success {
		if err := p.catalog.SetUnpublishedChanges(ctx, entity.EntityType, entity.ID, false); err != nil {
			return nil, err
		}
		entity.HasUnpublishedChanges = false
	}
	p.logger.Info("published entity",
		logging.Int64(logging.FieldEntityID, entity.ID),
		logging.Int("saved", len(result.SavedAssets)),
		logging.Int("errors", len(result.Errors)))
	return result, nil
}

func (p *Publisher) publishAsset(ctx context.Context, entity *catalog.Entity, base string, selection *catalog.AssetCandidate) (SavedAsset, error) {
	if !selection.IsDownloaded || selection.ContentHash == "" {
		return SavedAsset{}, services.Wrap(services.ErrNotFound, "publish", "publish asset",
			fmt.Sprintf("candidate %d has no cached content", selection.ID), nil)
	}
	blob, blobPath, err := p.cache.Open(ctx, selection.ContentHash)
	if err != nil {
		return SavedAsset{}, err
	}

	ext := filepath.Ext(blob.FilePath)
	destPath := filepath.Join(entity.MediaPath, fmt.Sprintf("%s-%s%s", base, selection.AssetType, ext))
	if err := p.placeFile(blobPath, destPath, blob.ContentHash); err != nil {
		return SavedAsset{}, err
	}
	if err := p.recordProjection(ctx, entity, selection.AssetType, destPath, blob.ContentHash); err != nil {
		return SavedAsset{}, err
	}
	return SavedAsset{AssetType: selection.AssetType, FilePath: destPath, ContentHash: blob.ContentHash}, nil
}

func (p *Publisher) publishNFO(ctx context.Context, entity *catalog.Entity, selections []*catalog.AssetCandidate, full bool) (*SavedAsset, error) {
	if p.renderer == nil {
		return nil, nil
	}
	destPath := filepath.Join(entity.MediaPath, mediaBase(entity.MediaFilename)+".nfo")
	if !full {
		// Incremental publish keeps an existing NFO that is still tracked.
		files, err := p.catalog.ListLibraryFiles(ctx, entity.EntityType, entity.ID)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			if file.FilePath != destPath {
				continue
			}
			if current, err := fileutil.HashFile(destPath); err == nil && current == file.ContentHash {
				return nil, nil
			}
		}
	}

	data, err := p.renderer.Render(entity, selections)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "publish", "render nfo", "nfo renderer failed", err)
	}

	// Rendered NFOs go through the cache too, so verification can restore
	// them later without re-rendering.
	blob, _, err := p.cache.Store(ctx, data, "nfo", ".nfo")
	if err != nil {
		return nil, err
	}
	if err := p.placeFile(p.cache.AbsolutePath(blob), destPath, blob.ContentHash); err != nil {
		return nil, err
	}
	if err := p.recordProjection(ctx, entity, "nfo", destPath, blob.ContentHash); err != nil {
		return nil, err
	}
	return &SavedAsset{AssetType: "nfo", FilePath: destPath, ContentHash: blob.ContentHash}, nil
}

// placeFile copies src to dest unless dest already holds the expected
// content.
func (p *Publisher) placeFile(src, dest, wantHash string) error {
	if current, err := fileutil.HashFile(dest); err == nil && current == wantHash {
		return nil
	}
	return fileutil.CopyFileVerified(src, dest)
}

// recordProjection upserts the library-file row and keeps blob reference
// counts balanced: a path projecting new content releases its old blob and
// references the new one; republishing identical content changes nothing.
func (p *Publisher) recordProjection(ctx context.Context, entity *catalog.Entity, assetType, destPath, hash string) error {
	files, err := p.catalog.ListLibraryFiles(ctx, entity.EntityType, entity.ID)
	if err != nil {
		return err
	}
	var previousHash string
	for _, file := range files {
		if file.FilePath == destPath {
			previousHash = file.ContentHash
			break
		}
	}
	if previousHash == hash {
		return nil
	}

	if err := p.cache.IncrementRef(ctx, hash); err != nil {
		return err
	}
	if err := p.catalog.RecordLibraryFile(ctx, &catalog.LibraryFile{
		EntityType:  entity.EntityType,
		EntityID:    entity.ID,
		AssetType:   assetType,
		FilePath:    destPath,
		ContentHash: hash,
	}); err != nil {
		_ = p.cache.DecrementRef(ctx, hash)
		return err
	}
	if previousHash != "" {
		if err := p.cache.DecrementRef(ctx, previousHash); err != nil {
			p.logger.Warn("failed to release replaced blob",
				logging.String("hash", previousHash),
				logging.Error(err))
		}
	}
	return nil
}

func mediaBase(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
