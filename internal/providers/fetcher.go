package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/services"
)

// Outcome classifies an aggregate fetch.
type Outcome string

const (
	// OutcomeCached means a fresh result set was served with zero network
	// calls.
	OutcomeCached Outcome = "cached"
	// OutcomeFull means every eligible provider succeeded.
	OutcomeFull Outcome = "full"
	// OutcomePartial means some providers failed but at least one succeeded;
	// callers proceed with the incomplete set.
	OutcomePartial Outcome = "partial"
	// OutcomeFailed means zero providers succeeded. This is an error, not an
	// empty result.
	OutcomeFailed Outcome = "failed"
)

// ProviderFailure records one provider's failure inside a fan-out.
type ProviderFailure struct {
	Provider string
	Err      error
}

// FetchResult is the aggregate of one fetchAssets call.
type FetchResult struct {
	Outcome    Outcome
	Candidates []*catalog.AssetCandidate
	Failures   []ProviderFailure
}

// Fetcher fans out asset queries to registered providers and persists the
// results as candidates.
type Fetcher struct {
	registry        *Registry
	breaker         *Breaker
	limiter         *RateLimiter
	catalog         *catalog.Store
	logger          *slog.Logger
	freshness       time.Duration
	providerTimeout time.Duration
	now             func() time.Time
}

// NewFetcher wires a fetcher from configuration and injected collaborators.
func NewFetcher(cfg *config.Config, registry *Registry, store *catalog.Store, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Fetcher{
		registry:        registry,
		breaker:         NewBreaker(cfg.Fetch.BreakerFailureThreshold, time.Duration(cfg.Fetch.BreakerCooldownSeconds)*time.Second),
		limiter:         NewRateLimiter(),
		catalog:         store,
		logger:          logger.With(logging.String(logging.FieldComponent, "providers")),
		freshness:       time.Duration(cfg.Fetch.FreshnessDays) * 24 * time.Hour,
		providerTimeout: time.Duration(cfg.Fetch.ProviderTimeoutSeconds) * time.Second,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the fetcher's time source (used in tests). The breaker
// and limiter share the same clock.
func (f *Fetcher) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	f.now = now
	f.breaker.SetClock(now)
	f.limiter.SetClock(now)
}

// Breaker exposes circuit state for diagnostics.
func (f *Fetcher) Breaker() *Breaker { return f.breaker }

// FetchAssets returns asset candidates for an entity. A result set fresher
// than the freshness window is served from the catalog without any network
// calls unless force is set. Otherwise every compatible provider is queried
// concurrently, each bounded by its own timeout.
func (f *Fetcher) FetchAssets(ctx context.Context, entity *catalog.Entity, assetTypes []string, force bool) (*FetchResult, error) {
	if entity == nil {
		return nil, services.Wrap(services.ErrValidation, "providers", "fetch assets", "entity is required", nil)
	}

	now := f.now()
	if !force && entity.LastEnrichedAt != nil && now.Sub(*entity.LastEnrichedAt) < f.freshness {
		candidates, err := f.cachedCandidates(ctx, entity, assetTypes)
		if err != nil {
			return nil, err
		}
		return &FetchResult{Outcome: OutcomeCached, Candidates: candidates}, nil
	}

	eligible := f.eligibleProviders(entity.EntityType)
	if len(eligible) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "providers", "fetch assets",
			fmt.Sprintf("no provider serves entity type %s", entity.EntityType), nil)
	}

	type providerOutcome struct {
		name   string
		assets []Asset
		err    error
	}
	outcomes := make(chan providerOutcome, len(eligible))
	var wg sync.WaitGroup
	for _, provider := range eligible {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			assets, err := f.queryProvider(ctx, p, entity, assetTypes)
			outcomes <- providerOutcome{name: p.Name(), assets: assets, err: err}
		}(provider)
	}
	wg.Wait()
	close(outcomes)

	result := &FetchResult{}
	collected := make([]providerOutcome, 0, len(eligible))
	for outcome := range outcomes {
		collected = append(collected, outcome)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].name < collected[j].name })

	successes := 0
	for _, outcome := range collected {
		if outcome.err != nil {
			result.Failures = append(result.Failures, ProviderFailure{Provider: outcome.name, Err: outcome.err})
			f.logger.Warn("provider fetch failed",
				logging.String("provider", outcome.name),
				logging.Error(outcome.err))
			continue
		}
		successes++
		for _, asset := range outcome.assets {
			candidate := &catalog.AssetCandidate{
				EntityType: entity.EntityType,
				EntityID:   entity.ID,
				AssetType:  asset.AssetType,
				Provider:   outcome.name,
				URL:        asset.URL,
				Score:      scoreAsset(asset),
				Width:      asset.Width,
				Height:     asset.Height,
				Language:   asset.Language,
				FetchedAt:  now,
			}
			if _, err := f.catalog.UpsertCandidate(ctx, candidate); err != nil {
				return nil, err
			}
			result.Candidates = append(result.Candidates, candidate)
		}
	}

	switch {
	case successes == 0:
		result.Outcome = OutcomeFailed
		return result, services.Wrap(services.ErrNetwork, "providers", "fetch assets",
			fmt.Sprintf("all %d providers failed for entity %s/%d", len(eligible), entity.EntityType, entity.ID), nil)
	case len(result.Failures) > 0:
		result.Outcome = OutcomePartial
	default:
		result.Outcome = OutcomeFull
	}

	if err := f.catalog.TouchEnriched(ctx, entity.EntityType, entity.ID, now); err != nil {
		return nil, err
	}
	enriched := now
	entity.LastEnrichedAt = &enriched
	return result, nil
}

func (f *Fetcher) cachedCandidates(ctx context.Context, entity *catalog.Entity, assetTypes []string) ([]*catalog.AssetCandidate, error) {
	if len(assetTypes) == 0 {
		return f.catalog.ListCandidates(ctx, entity.EntityType, entity.ID, "")
	}
	var candidates []*catalog.AssetCandidate
	for _, assetType := range assetTypes {
		batch, err := f.catalog.ListCandidates(ctx, entity.EntityType, entity.ID, assetType)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, batch...)
	}
	return candidates, nil
}

func (f *Fetcher) eligibleProviders(entityType catalog.EntityType) []Provider {
	var eligible []Provider
	for _, provider := range f.registry.All() {
		if provider.Capabilities().SupportsEntity(entityType) {
			eligible = append(eligible, provider)
		}
	}
	return eligible
}

func (f *Fetcher) queryProvider(ctx context.Context, provider Provider, entity *catalog.Entity, assetTypes []string) ([]Asset, error) {
	name := provider.Name()
	if !f.breaker.Allow(name) {
		return nil, services.Wrap(services.ErrNetwork, "providers", "query",
			fmt.Sprintf("circuit open for provider %s", name), nil)
	}
	if delay := f.limiter.Delay(name); delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	pctx := ctx
	if f.providerTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, f.providerTimeout)
		defer cancel()
	}

	assets, err := f.callProvider(pctx, provider, entity, assetTypes)
	if err != nil {
		var rateLimited *RateLimitError
		if errors.As(err, &rateLimited) {
			f.limiter.RecordRateLimited(name, rateLimited.RetryAfter)
		}
		f.breaker.RecordFailure(name)
		return nil, err
	}
	f.breaker.RecordSuccess(name)
	f.limiter.RecordSuccess(name)
	return assets, nil
}

func (f *Fetcher) callProvider(ctx context.Context, provider Provider, entity *catalog.Entity, assetTypes []string) ([]Asset, error) {
	results, err := provider.Search(ctx, entity.Title, entity.Year)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		// Legitimately absent data, not a failure.
		return nil, nil
	}
	best := results[0]
	for _, result := range results[1:] {
		if result.Confidence > best.Confidence {
			best = result
		}
	}
	return provider.GetAssets(ctx, best.ProviderResultID, assetTypes)
}

// scoreAsset ranks a provider asset for auto-selection.
func scoreAsset(asset Asset) float64 {
	score := asset.VoteAverage * 10
	votes := asset.Votes
	if votes > 500 {
		votes = 500
	}
	score += float64(votes) / 50
	if asset.Width >= 1920 || asset.Height >= 1080 {
		score += 5
	}
	return score
}
