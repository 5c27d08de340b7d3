package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"curator/internal/assetcache"
	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/queue"
	"curator/internal/recycle"
	"curator/internal/services"
)

// Manager runs the worker pool that drains the job queue, plus the periodic
// maintenance loop (verification sweeps, cache GC, history pruning).
type Manager struct {
	cfg         *config.Config
	queue       *queue.Store
	catalog     *catalog.Store
	cache       *assetcache.Cache
	bin         *recycle.Bin
	logger      *slog.Logger
	handlers    map[queue.Type]Handler
	notifyGroup string
	now         func() time.Time
}

// NewManager wires the orchestrator. Handlers are registered separately so
// tests can install fakes for individual phases.
func NewManager(cfg *config.Config, jobs *queue.Store, store *catalog.Store, cache *assetcache.Cache, bin *recycle.Bin, logger *slog.Logger) *Manager {
	group := ""
	if len(cfg.Players) > 0 {
		group = cfg.Players[0].Name
	}
	return &Manager{
		cfg:         cfg,
		queue:       jobs,
		catalog:     store,
		cache:       cache,
		bin:         bin,
		logger:      componentLogger(logger, "workflow"),
		handlers:    make(map[queue.Type]Handler),
		notifyGroup: group,
		now:         time.Now,
	}
}

// Register installs a handler for its job type.
func (m *Manager) Register(handler Handler) error {
	jobType := handler.JobType()
	if _, exists := m.handlers[jobType]; exists {
		return services.Wrap(services.ErrAlreadyExists, "workflow", "register handler",
			fmt.Sprintf("handler for %q already registered", jobType), nil)
	}
	m.handlers[jobType] = handler
	return nil
}

// Run recovers stalled jobs, then blocks draining the queue until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) error {
	reset, err := m.queue.ResetStalled(ctx)
	if err != nil {
		return fmt.Errorf("reset stalled jobs: %w", err)
	}
	if reset > 0 {
		m.logger.Info("requeued jobs interrupted by previous shutdown",
			logging.Int64("count", reset))
	}

	workers := m.cfg.Workflow.Workers
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			m.workerLoop(ctx, worker)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.maintenanceLoop(ctx)
	}()

	m.logger.Info("workflow manager started", logging.Int("workers", workers))
	wg.Wait()
	m.logger.Info("workflow manager stopped")
	return nil
}

func (m *Manager) workerLoop(ctx context.Context, worker int) {
	poll := secondsOrDefault(m.cfg.Workflow.QueuePollInterval, 5)
	backoff := secondsOrDefault(m.cfg.Workflow.ErrorRetryInterval, 10)

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := m.queue.ClaimNext(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("claim failed",
				logging.Int("worker", worker),
				logging.Error(err))
			if !sleepCtx(ctx, backoff) {
				return
			}
		case job == nil:
			if !sleepCtx(ctx, poll) {
				return
			}
		default:
			m.process(ctx, job)
		}
	}
}

// process runs one claimed job through its handler and settles it.
func (m *Manager) process(ctx context.Context, job *queue.Job) {
	jctx := services.WithJobID(ctx, job.ID)
	jctx = services.WithPhase(jctx, string(job.Type))
	jctx = services.WithRequestID(jctx, uuid.NewString())
	logger := logging.WithContext(jctx, m.logger)

	handler, ok := m.handlers[job.Type]
	if !ok {
		m.settleFailure(jctx, logger, job, services.Wrap(services.ErrConfiguration, "workflow", "dispatch",
			fmt.Sprintf("no handler registered for %q", job.Type), nil))
		return
	}
	payload, err := queue.DecodePayload(job)
	if err != nil {
		m.settleFailure(jctx, logger, job, err)
		return
	}

	logger.Info("job started", logging.Bool("manual", job.Manual))
	started := m.now()
	outcome, err := handler.Execute(jctx, job, payload)
	if err != nil {
		m.settleFailure(jctx, logger, job, err)
		return
	}

	if err := m.chain(jctx, logger, job, outcome); err != nil {
		// The work itself succeeded; failing the job would redo it.
		logger.Error("chain continuation failed", logging.Error(err))
	}
	if err := m.queue.Complete(jctx, job.ID); err != nil {
		logger.Error("complete failed", logging.Error(err))
		return
	}
	logger.Info("job finished", logging.Duration("elapsed", m.now().Sub(started)))
}

func (m *Manager) settleFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, cause error) {
	retryable := services.Retryable(cause)
	requeued, err := m.queue.Fail(ctx, job.ID, cause.Error(), retryable)
	if err != nil {
		logger.Error("fail bookkeeping failed", logging.Error(err))
		return
	}
	logger.Warn("job failed",
		logging.Bool("requeued", requeued),
		logging.Error(cause))
}

// chain enqueues the next phase for each continuation the handler reported.
// Manual jobs propagate their manual flag so the whole chain bypasses the
// phase-enablement gates.
func (m *Manager) chain(ctx context.Context, logger *slog.Logger, job *queue.Job, outcome *Outcome) error {
	if outcome == nil || len(outcome.Continuations) == 0 {
		return nil
	}
	next, ok := NextPhase(m.cfg, job.Type, job.Manual)
	if !ok {
		return nil
	}

	priority := queue.PriorityNormal
	if job.Manual {
		priority = queue.PriorityHigh
	}
	for _, cont := range outcome.Continuations {
		payload := m.nextPayload(next, cont)
		if payload == nil {
			continue
		}
		if _, err := m.queue.Enqueue(ctx, queue.Spec{
			Payload:  payload,
			Priority: priority,
			Manual:   job.Manual,
		}); err != nil {
			return err
		}
		logger.Debug("chained next phase",
			logging.String("next", string(next)),
			logging.Int64("entityId", cont.EntityID))
	}
	return nil
}

func (m *Manager) nextPayload(next queue.Type, cont Continuation) queue.Payload {
	switch next {
	case queue.TypeEnrichMetadata:
		return queue.EnrichMetadataPayload{
			EntityType: string(cont.EntityType),
			EntityID:   cont.EntityID,
		}
	case queue.TypePublish:
		return queue.PublishPayload{
			EntityType: string(cont.EntityType),
			EntityID:   cont.EntityID,
		}
	case queue.TypeNotifyPlayers:
		if m.notifyGroup == "" {
			return nil
		}
		return queue.NotifyPlayersPayload{
			GroupName: m.notifyGroup,
			Event:     "library-updated",
			EntityID:  cont.EntityID,
		}
	default:
		return nil
	}
}

// maintenanceLoop schedules verification sweeps and daily housekeeping.
func (m *Manager) maintenanceLoop(ctx context.Context) {
	var verifyTick <-chan time.Time
	if m.cfg.Workflow.VerifyInterval > 0 {
		ticker := time.NewTicker(time.Duration(m.cfg.Workflow.VerifyInterval) * time.Hour)
		defer ticker.Stop()
		verifyTick = ticker.C
	}
	housekeeping := time.NewTicker(24 * time.Hour)
	defer housekeeping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-verifyTick:
			if err := m.EnqueueVerifySweep(ctx); err != nil {
				m.logger.Error("verify sweep failed", logging.Error(err))
			}
		case <-housekeeping.C:
			m.RunHousekeeping(ctx)
		}
	}
}

// EnqueueVerifySweep schedules a low-priority verify job for every monitored
// entity.
func (m *Manager) EnqueueVerifySweep(ctx context.Context) error {
	for _, entityType := range []catalog.EntityType{catalog.EntityMovie, catalog.EntitySeries, catalog.EntityEpisode} {
		entities, err := m.catalog.ListEntities(ctx, entityType)
		if err != nil {
			return err
		}
		for _, entity := range entities {
			if !entity.Monitored {
				continue
			}
			_, err := m.queue.Enqueue(ctx, queue.Spec{
				Payload: queue.VerifyPayload{
					EntityType: string(entity.EntityType),
					EntityID:   entity.ID,
				},
				Priority: queue.PriorityLow,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// RunHousekeeping garbage-collects the cache and prunes queue history and
// the recycle bin. Failures are logged and do not stop the other chores.
func (m *Manager) RunHousekeeping(ctx context.Context) {
	retention := time.Duration(m.cfg.Cache.OrphanRetentionDays) * 24 * time.Hour
	if removed, err := m.cache.GarbageCollect(ctx, retention); err != nil {
		m.logger.Error("cache gc failed", logging.Error(err))
	} else if removed > 0 {
		m.logger.Info("cache gc finished", logging.Int("removed", removed))
	}

	cutoff := m.now().Add(-time.Duration(m.cfg.Queue.HistoryRetentionDays) * 24 * time.Hour)
	if pruned, err := m.queue.PruneHistory(ctx, cutoff); err != nil {
		m.logger.Error("history prune failed", logging.Error(err))
	} else if pruned > 0 {
		m.logger.Info("history pruned", logging.Int64("removed", pruned))
	}

	if m.bin != nil {
		if pruned, err := m.bin.Prune(cutoff); err != nil {
			m.logger.Error("recycle bin prune failed", logging.Error(err))
		} else if pruned > 0 {
			m.logger.Info("recycle bin pruned", logging.Int("removed", pruned))
		}
	}
}

func secondsOrDefault(seconds, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
