package publish

import (
	"context"
	"fmt"

	"curator/internal/assetcache"
	"curator/internal/catalog"
	"curator/internal/logging"
	"curator/internal/services"
)

// AssetDownloader fetches a candidate's URL into the cache.
type AssetDownloader interface {
	DownloadCandidate(ctx context.Context, candidate *catalog.AssetCandidate) (*assetcache.Blob, error)
}

// ReplaceResult reports how a replace-asset-set call reshaped the candidate
// set.
type ReplaceResult struct {
	Retained []int64
	Added    []int64
	Removed  []int64
	Selected int64
}

// ReplaceAssetSet reshapes one asset type's candidate set to exactly the
// desired candidate ids: additions are downloaded into the cache, removals
// release their cache references, and the highest-scoring survivor becomes
// the selection. The asset type's field is locked afterward so automation
// will not override the manual choice.
func (p *Publisher) ReplaceAssetSet(ctx context.Context, entity *catalog.Entity, assetType string, desiredIDs []int64, maxPerType int, downloader AssetDownloader) (*ReplaceResult, error) {
	if entity == nil || entity.ID == 0 {
		return nil, services.Wrap(services.ErrValidation, "publish", "replace assets", "persisted entity is required", nil)
	}
	if assetType == "" {
		return nil, services.Wrap(services.ErrValidation, "publish", "replace assets", "asset type is required", nil)
	}
	if maxPerType > 0 && len(desiredIDs) > maxPerType {
		return nil, services.Wrap(services.ErrExhausted, "publish", "replace assets",
			fmt.Sprintf("%d candidates requested, limit is %d per asset type", len(desiredIDs), maxPerType), nil)
	}

	current, err := p.catalog.ListCandidates(ctx, entity.EntityType, entity.ID, assetType)
	if err != nil {
		return nil, err
	}
	currentByID := make(map[int64]*catalog.AssetCandidate, len(current))
	for _, candidate := range current {
		currentByID[candidate.ID] = candidate
	}

	desired := make(map[int64]bool, len(desiredIDs))
	for _, id := range desiredIDs {
		if _, ok := currentByID[id]; !ok {
			return nil, services.Wrap(services.ErrNotFound, "publish", "replace assets",
				fmt.Sprintf("candidate %d is not a %s candidate for entity %s/%d", id, assetType, entity.EntityType, entity.ID), nil)
		}
		if desired[id] {
			return nil, services.Wrap(services.ErrAlreadyExists, "publish", "replace assets",
				fmt.Sprintf("candidate %d listed twice", id), nil)
		}
		desired[id] = true
	}

	result := &ReplaceResult{}

	// Removals first, so a re-run after a partial failure converges.
	for _, candidate := range current {
		if desired[candidate.ID] {
			continue
		}
		if candidate.IsDownloaded && candidate.ContentHash != "" {
			if err := p.cache.DecrementRef(ctx, candidate.ContentHash); err != nil {
				p.logger.Warn("failed to release removed candidate",
					logging.Int64("candidate", candidate.ID),
					logging.Error(err))
			}
		}
		if err := p.catalog.DeleteCandidate(ctx, candidate.ID); err != nil {
			return nil, err
		}
		result.Removed = append(result.Removed, candidate.ID)
	}

	var best *catalog.AssetCandidate
	for _, id := range desiredIDs {
		candidate := currentByID[id]
		if candidate.IsDownloaded && candidate.ContentHash != "" {
			result.Retained = append(result.Retained, id)
		} else {
			if downloader == nil {
				return nil, services.Wrap(services.ErrValidation, "publish", "replace assets",
					fmt.Sprintf("candidate %d needs downloading but no downloader was provided", id), nil)
			}
			if _, err := downloader.DownloadCandidate(ctx, candidate); err != nil {
				return nil, err
			}
			result.Added = append(result.Added, id)
		}
		if best == nil || candidate.Score > best.Score {
			best = candidate
		}
	}

	if best != nil {
		if err := p.catalog.SelectCandidate(ctx, best.ID); err != nil {
			return nil, err
		}
		result.Selected = best.ID
	} else {
		if err := p.catalog.ClearSelection(ctx, entity.EntityType, entity.ID, assetType); err != nil {
			return nil, err
		}
	}

	if err := p.catalog.LockField(ctx, entity.EntityType, entity.ID, assetType); err != nil {
		return nil, err
	}
	entity.LockedFields = append(entity.LockedFields, assetType)
	if err := p.catalog.SetUnpublishedChanges(ctx, entity.EntityType, entity.ID, true); err != nil {
		return nil, err
	}
	entity.HasUnpublishedChanges = true

	p.logger.Info("replaced asset set",
		logging.Int64(logging.FieldEntityID, entity.ID),
		logging.String("asset_type", assetType),
		logging.Int("retained", len(result.Retained)),
		logging.Int("added", len(result.Added)),
		logging.Int("removed", len(result.Removed)))
	return result, nil
}
