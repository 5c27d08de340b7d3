package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"curator/internal/assetcache"
	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/fileutil"
	"curator/internal/logging"
	"curator/internal/queue"
	"curator/internal/recycle"
	"curator/internal/services"
)

// Report summarizes what one verification pass found and repaired.
type Report struct {
	FilesRestored int
	FilesRecycled int
	VideoChanged  bool
	AssetDrift    bool
}

// Verifier heals drift between an entity's library directory and the cache.
type Verifier struct {
	catalog     *catalog.Store
	cache       *assetcache.Cache
	bin         *recycle.Bin
	queue       *queue.Store
	ignore      []string
	notifyGroup string
	logger      *slog.Logger
}

// New wires a verifier. The queue may be nil for one-shot CLI verification,
// in which case no follow-up jobs are chained.
func New(cfg *config.Config, store *catalog.Store, cache *assetcache.Cache, bin *recycle.Bin, jobs *queue.Store, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	notifyGroup := ""
	if len(cfg.Players) > 0 {
		notifyGroup = cfg.Players[0].Name
	}
	return &Verifier{
		catalog:     store,
		cache:       cache,
		bin:         bin,
		queue:       jobs,
		ignore:      cfg.Library.IgnorePatterns,
		notifyGroup: notifyGroup,
		logger:      logger.With(logging.String(logging.FieldComponent, "verify")),
	}
}

// Verify runs the full reconciliation pass for one entity: media drift
// check, expected-file restore, unauthorized-file sweep, and conditional
// re-chain.
func (v *Verifier) Verify(ctx context.Context, entity *catalog.Entity) (*Report, error) {
	if entity == nil || entity.ID == 0 {
		return nil, services.Wrap(services.ErrValidation, "verify", "verify", "persisted entity is required", nil)
	}

	report := &Report{}

	// Step 1: media drift. A missing primary file is a hard error; there is
	// no cached copy of source media to restore from.
	primaryPath := filepath.Join(entity.MediaPath, entity.MediaFilename)
	currentHash, err := fileutil.HashFile(primaryPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "verify", "media check",
				fmt.Sprintf("primary media file %s is missing and cannot be restored", primaryPath), err)
		}
		return nil, fmt.Errorf("hash primary media: %w", err)
	}
	if entity.PrimaryFileHash != "" && currentHash != entity.PrimaryFileHash {
		report.VideoChanged = true
		v.logger.Info("primary media changed",
			logging.Int64(logging.FieldEntityID, entity.ID),
			logging.String("path", primaryPath))
	}
	if currentHash != entity.PrimaryFileHash {
		if err := v.catalog.SetPrimaryFileHash(ctx, entity.EntityType, entity.ID, currentHash); err != nil {
			return nil, err
		}
		entity.PrimaryFileHash = currentHash
	}

	// Step 2: snapshot the live directory, excluding the primary file.
	snapshot, err := v.snapshotDirectory(entity.MediaPath, entity.MediaFilename)
	if err != nil {
		return nil, err
	}

	// Step 3: restore or replace every expected file.
	expected, err := v.catalog.ListLibraryFiles(ctx, entity.EntityType, entity.ID)
	if err != nil {
		return nil, err
	}
	for _, want := range expected {
		name := filepath.Base(want.FilePath)
		delete(snapshot, name)

		liveHash, err := fileutil.HashFile(want.FilePath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			if err := v.restore(ctx, want); err != nil {
				v.logger.Warn("restore failed",
					logging.String("path", want.FilePath),
					logging.Error(err))
				continue
			}
			report.FilesRestored++
			report.AssetDrift = true
		case err != nil:
			return nil, fmt.Errorf("hash %s: %w", want.FilePath, err)
		case liveHash != want.ContentHash:
			if _, err := v.bin.Recycle(want.FilePath, "hash mismatch during verification"); err != nil {
				return nil, err
			}
			report.FilesRecycled++
			if err := v.restore(ctx, want); err != nil {
				v.logger.Warn("restore after recycle failed",
					logging.String("path", want.FilePath),
					logging.Error(err))
				report.AssetDrift = true
				continue
			}
			report.FilesRestored++
			report.AssetDrift = true
		}
	}

	// Step 4: sweep unauthorized files.
	for name := range snapshot {
		if v.ignored(name) {
			continue
		}
		path := filepath.Join(entity.MediaPath, name)
		if _, err := v.bin.Recycle(path, "unauthorized file in library directory"); err != nil {
			return nil, err
		}
		report.FilesRecycled++
		report.AssetDrift = true
	}

	// Step 5: conditional re-chain.
	if err := v.chain(ctx, entity, report); err != nil {
		return nil, err
	}

	v.logger.Info("verification finished",
		logging.Int64(logging.FieldEntityID, entity.ID),
		logging.Int("restored", report.FilesRestored),
		logging.Int("recycled", report.FilesRecycled),
		logging.Bool("video_changed", report.VideoChanged))
	return report, nil
}

func (v *Verifier) snapshotDirectory(dir, primaryName string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read library directory: %w", err)
	}
	snapshot := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == primaryName {
			continue
		}
		snapshot[entry.Name()] = true
	}
	return snapshot, nil
}

func (v *Verifier) restore(ctx context.Context, want *catalog.LibraryFile) error {
	_, blobPath, err := v.cache.Open(ctx, want.ContentHash)
	if err != nil {
		return err
	}
	return fileutil.CopyFileVerified(blobPath, want.FilePath)
}

func (v *Verifier) ignored(name string) bool {
	for _, pattern := range v.ignore {
		if matched, err := filepath.Match(pattern, name); err == nil && matched {
			return true
		}
	}
	return false
}

// chain enqueues the follow-up work the report calls for: a changed primary
// file forces a full republish (the NFO's technical metadata may be stale),
// while repaired asset drift only needs a player refresh.
func (v *Verifier) chain(ctx context.Context, entity *catalog.Entity, report *Report) error {
	if v.queue == nil {
		return nil
	}
	switch {
	case report.VideoChanged:
		_, err := v.queue.Enqueue(ctx, queue.Spec{
			Payload: queue.PublishPayload{
				EntityType: string(entity.EntityType),
				EntityID:   entity.ID,
				Full:       true,
			},
			Priority: queue.PriorityNormal,
		})
		return err
	case report.FilesRestored > 0 || report.FilesRecycled > 0:
		if v.notifyGroup == "" {
			return nil
		}
		_, err := v.queue.Enqueue(ctx, queue.Spec{
			Payload: queue.NotifyPlayersPayload{
				GroupName: v.notifyGroup,
				Event:     "library-updated",
				EntityID:  entity.ID,
			},
			Priority: queue.PriorityNormal,
		})
		return err
	default:
		return nil
	}
}
