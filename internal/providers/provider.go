package providers

import (
	"context"
	"fmt"
	"time"

	"curator/internal/catalog"
	"curator/internal/services"
)

// SearchResult is one provider match for a title query.
type SearchResult struct {
	ProviderResultID string
	Title            string
	Year             int
	ExternalIDs      map[string]string
	Confidence       float64
}

// Metadata is a provider's field set for one result.
type Metadata struct {
	Fields       map[string]string
	Completeness float64
	Confidence   float64
}

// Asset is one downloadable artwork or companion file offered by a provider.
type Asset struct {
	AssetType   string
	URL         string
	Width       int
	Height      int
	Language    string
	Votes       int
	VoteAverage float64
}

// Capabilities describes what a provider can serve, so the fetcher can skip
// incompatible calls without a network round-trip.
type Capabilities struct {
	EntityTypes    []catalog.EntityType
	AssetTypes     []string
	MetadataFields []string
}

// SupportsEntity reports whether the provider serves the entity type.
func (c Capabilities) SupportsEntity(entityType catalog.EntityType) bool {
	for _, supported := range c.EntityTypes {
		if supported == entityType {
			return true
		}
	}
	return false
}

// SupportsAsset reports whether the provider serves the asset type.
func (c Capabilities) SupportsAsset(assetType string) bool {
	for _, supported := range c.AssetTypes {
		if supported == assetType {
			return true
		}
	}
	return false
}

// Provider is the external metadata/asset source contract.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Search(ctx context.Context, query string, year int) ([]SearchResult, error)
	GetMetadata(ctx context.Context, providerResultID string, fields []string) (*Metadata, error)
	GetAssets(ctx context.Context, providerResultID string, assetTypes []string) ([]Asset, error)
}

// RateLimitError reports an HTTP 429 from a provider, carrying the server's
// Retry-After hint when one was supplied.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider %s rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("provider %s rate limited", e.Provider)
}

func (e *RateLimitError) Unwrap() error { return services.ErrRateLimited }
