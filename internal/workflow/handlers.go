package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/notify"
	"curator/internal/providers"
	"curator/internal/publish"
	"curator/internal/queue"
	"curator/internal/scanner"
	"curator/internal/services"
	"curator/internal/verify"
)

// defaultAssetTypes is what an enrich job fetches when the payload does not
// narrow the request.
var defaultAssetTypes = []string{"poster", "fanart"}

// ScanHandler registers media files found in a library directory.
type ScanHandler struct {
	scanner *scanner.Scanner
	logger  *slog.Logger
}

// NewScanHandler wires the directory-scan phase.
func NewScanHandler(s *scanner.Scanner, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{scanner: s, logger: componentLogger(logger, "scan-handler")}
}

// JobType implements Handler.
func (h *ScanHandler) JobType() queue.Type { return queue.TypeDirectoryScan }

// Execute implements Handler. Newly created entities continue down the
// pipeline; already-tracked ones do not, so rescans stay cheap.
func (h *ScanHandler) Execute(ctx context.Context, job *queue.Job, payload queue.Payload) (*Outcome, error) {
	p := payload.(queue.DirectoryScanPayload)
	result, err := h.scanner.Scan(ctx, p.DirectoryPath)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{}
	for _, entity := range result.Created {
		outcome.Continuations = append(outcome.Continuations, Continuation{
			EntityType: entity.EntityType,
			EntityID:   entity.ID,
		})
	}
	h.logger.Info("scan job finished",
		logging.String("dir", p.DirectoryPath),
		logging.Int("created", len(result.Created)),
		logging.Int("seen", result.Seen))
	return outcome, nil
}

// EnrichHandler fetches provider candidates and, in auto-select mode, picks
// and downloads the best candidate per asset type.
type EnrichHandler struct {
	cfg        *config.Config
	catalog    *catalog.Store
	fetcher    *providers.Fetcher
	downloader publish.AssetDownloader
	logger     *slog.Logger
}

// NewEnrichHandler wires the enrich-metadata phase.
func NewEnrichHandler(cfg *config.Config, store *catalog.Store, fetcher *providers.Fetcher, downloader publish.AssetDownloader, logger *slog.Logger) *EnrichHandler {
	return &EnrichHandler{
		cfg:        cfg,
		catalog:    store,
		fetcher:    fetcher,
		downloader: downloader,
		logger:     componentLogger(logger, "enrich-handler"),
	}
}

// JobType implements Handler.
func (h *EnrichHandler) JobType() queue.Type { return queue.TypeEnrichMetadata }

// Execute implements Handler.
func (h *EnrichHandler) Execute(ctx context.Context, job *queue.Job, payload queue.Payload) (*Outcome, error) {
	p := payload.(queue.EnrichMetadataPayload)
	entity, err := loadEntity(ctx, h.catalog, p.EntityType, p.EntityID)
	if err != nil {
		return nil, err
	}
	if !entity.Monitored {
		h.logger.Info("entity is unmonitored, skipping enrich",
			logging.Int64("entityId", entity.ID))
		return &Outcome{}, nil
	}

	assetTypes := p.AssetTypes
	if len(assetTypes) == 0 {
		assetTypes = defaultAssetTypes
	}

	result, err := h.fetcher.FetchAssets(ctx, entity, assetTypes, p.Force)
	if err != nil {
		return nil, err
	}
	h.logger.Info("fetch finished",
		logging.Int64("entityId", entity.ID),
		logging.String("outcome", string(result.Outcome)),
		logging.Int("candidates", len(result.Candidates)))

	if h.cfg.Workflow.AutoSelect != "auto" {
		// Review mode: candidates are persisted and await a manual
		// selection, so the chain stops here.
		return &Outcome{}, nil
	}

	selected := 0
	for _, assetType := range assetTypes {
		if entity.FieldLocked(assetType) {
			h.logger.Debug("asset type locked, keeping manual selection",
				logging.Int64("entityId", entity.ID),
				logging.String("assetType", assetType))
			continue
		}
		changed, err := h.selectBest(ctx, entity, assetType)
		if err != nil {
			return nil, err
		}
		if changed {
			selected++
		}
	}
	if selected > 0 {
		if err := h.catalog.SetUnpublishedChanges(ctx, entity.EntityType, entity.ID, true); err != nil {
			return nil, err
		}
	}

	return &Outcome{Continuations: []Continuation{{EntityType: entity.EntityType, EntityID: entity.ID}}}, nil
}

// selectBest picks the highest-scoring candidate for one asset type,
// downloading it if needed. Returns whether the selection changed.
func (h *EnrichHandler) selectBest(ctx context.Context, entity *catalog.Entity, assetType string) (bool, error) {
	candidates, err := h.catalog.ListCandidates(ctx, entity.EntityType, entity.ID, assetType)
	if err != nil {
		return false, err
	}
	if len(candidates) == 0 {
		return false, nil
	}

	best := candidates[0]
	for _, candidate := range candidates[1:] {
		if candidate.Score > best.Score {
			best = candidate
		}
	}
	if best.IsSelected && best.IsDownloaded {
		return false, nil
	}

	if !best.IsDownloaded {
		if _, err := h.downloader.DownloadCandidate(ctx, best); err != nil {
			return false, fmt.Errorf("download %s candidate: %w", assetType, err)
		}
	}
	if err := h.catalog.SelectCandidate(ctx, best.ID); err != nil {
		return false, err
	}
	return true, nil
}

// PublishHandler projects current selections into the library directory.
type PublishHandler struct {
	catalog   *catalog.Store
	publisher *publish.Publisher
	logger    *slog.Logger
}

// NewPublishHandler wires the publish phase.
func NewPublishHandler(store *catalog.Store, publisher *publish.Publisher, logger *slog.Logger) *PublishHandler {
	return &PublishHandler{
		catalog:   store,
		publisher: publisher,
		logger:    componentLogger(logger, "publish-handler"),
	}
}

// JobType implements Handler.
func (h *PublishHandler) JobType() queue.Type { return queue.TypePublish }

// Execute implements Handler. A partially failed publish is retryable: the
// assets that did land stay in place and the retry only redoes the rest.
func (h *PublishHandler) Execute(ctx context.Context, job *queue.Job, payload queue.Payload) (*Outcome, error) {
	p := payload.(queue.PublishPayload)
	entity, err := loadEntity(ctx, h.catalog, p.EntityType, p.EntityID)
	if err != nil {
		return nil, err
	}
	if !entity.Monitored {
		h.logger.Info("entity is unmonitored, skipping publish",
			logging.Int64("entityId", entity.ID))
		return &Outcome{}, nil
	}

	result, err := h.publisher.Publish(ctx, entity, p.Full)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		first := result.Errors[0]
		return nil, services.Wrap(services.ErrTransient, "publish", "project assets",
			fmt.Sprintf("%d of %d assets failed, first: %s %v",
				len(result.Errors), len(result.Errors)+len(result.SavedAssets), first.AssetType, first.Err), nil)
	}

	h.logger.Info("publish finished",
		logging.Int64("entityId", entity.ID),
		logging.Int("saved", len(result.SavedAssets)))
	return &Outcome{Continuations: []Continuation{{EntityType: entity.EntityType, EntityID: entity.ID}}}, nil
}

// VerifyHandler reconciles one entity's library directory. Follow-up work is
// chained by the verifier itself based on what it finds.
type VerifyHandler struct {
	catalog  *catalog.Store
	verifier *verify.Verifier
	logger   *slog.Logger
}

// NewVerifyHandler wires the verify phase.
func NewVerifyHandler(store *catalog.Store, verifier *verify.Verifier, logger *slog.Logger) *VerifyHandler {
	return &VerifyHandler{
		catalog:  store,
		verifier: verifier,
		logger:   componentLogger(logger, "verify-handler"),
	}
}

// JobType implements Handler.
func (h *VerifyHandler) JobType() queue.Type { return queue.TypeVerify }

// Execute implements Handler.
func (h *VerifyHandler) Execute(ctx context.Context, job *queue.Job, payload queue.Payload) (*Outcome, error) {
	p := payload.(queue.VerifyPayload)
	entity, err := loadEntity(ctx, h.catalog, p.EntityType, p.EntityID)
	if err != nil {
		return nil, err
	}
	if !entity.Monitored {
		return &Outcome{}, nil
	}

	report, err := h.verifier.Verify(ctx, entity)
	if err != nil {
		return nil, err
	}
	h.logger.Info("verify finished",
		logging.Int64("entityId", entity.ID),
		logging.Int("restored", report.FilesRestored),
		logging.Int("recycled", report.FilesRecycled),
		logging.Bool("videoChanged", report.VideoChanged))
	return &Outcome{}, nil
}

// NotifyHandler tells a player group the library changed.
type NotifyHandler struct {
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewNotifyHandler wires the notify-players phase.
func NewNotifyHandler(notifier notify.Notifier, logger *slog.Logger) *NotifyHandler {
	return &NotifyHandler{notifier: notifier, logger: componentLogger(logger, "notify-handler")}
}

// JobType implements Handler.
func (h *NotifyHandler) JobType() queue.Type { return queue.TypeNotifyPlayers }

// Execute implements Handler.
func (h *NotifyHandler) Execute(ctx context.Context, job *queue.Job, payload queue.Payload) (*Outcome, error) {
	p := payload.(queue.NotifyPlayersPayload)
	result, err := h.notifier.NotifyGroup(ctx, p.GroupName, p.Event, p.EntityID)
	if err != nil {
		return nil, err
	}
	h.logger.Info("players notified",
		logging.String("group", p.GroupName),
		logging.String("respondingUrl", result.RespondingURL))
	return &Outcome{}, nil
}

func loadEntity(ctx context.Context, store *catalog.Store, entityType string, id int64) (*catalog.Entity, error) {
	parsed, ok := catalog.ParseEntityType(entityType)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "workflow", "load entity",
			fmt.Sprintf("unknown entity type %q", entityType), nil)
	}
	return store.EntityByID(ctx, parsed, id)
}

func componentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = logging.NewNop()
	}
	return logger.With(logging.String(logging.FieldComponent, component))
}
