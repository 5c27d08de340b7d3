package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/services"
)

// RESTProvider speaks the generic JSON provider protocol:
//
//	GET {base}/search?query=...&year=...
//	GET {base}/metadata/{id}?fields=a,b
//	GET {base}/assets/{id}?types=poster,fanart
//
// The API key, when configured, is sent as an X-Api-Key header.
type RESTProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRESTProvider builds a provider client from one config entry.
func NewRESTProvider(entry config.Provider) (*RESTProvider, error) {
	base := strings.TrimRight(strings.TrimSpace(entry.BaseURL), "/")
	if base == "" {
		return nil, services.Wrap(services.ErrConfiguration, "providers", "configure",
			fmt.Sprintf("provider %q requires a base_url", entry.Name), nil)
	}
	return &RESTProvider{
		name:    entry.Name,
		baseURL: base,
		apiKey:  entry.APIKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Name implements Provider.
func (p *RESTProvider) Name() string { return p.name }

// Capabilities implements Provider. The generic protocol serves artwork for
// all entity types.
func (p *RESTProvider) Capabilities() Capabilities {
	return Capabilities{
		EntityTypes:    []catalog.EntityType{catalog.EntityMovie, catalog.EntitySeries, catalog.EntityEpisode},
		AssetTypes:     []string{"poster", "fanart", "banner", "logo"},
		MetadataFields: []string{"title", "year", "overview"},
	}
}

type restSearchResult struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Year        int               `json:"year"`
	ExternalIDs map[string]string `json:"externalIds"`
	Confidence  float64           `json:"confidence"`
}

// Search implements Provider.
func (p *RESTProvider) Search(ctx context.Context, query string, year int) ([]SearchResult, error) {
	params := url.Values{"query": {query}}
	if year > 0 {
		params.Set("year", fmt.Sprintf("%d", year))
	}

	var raw []restSearchResult
	if err := p.getJSON(ctx, "/search", params, &raw); err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(raw))
	for _, r := range raw {
		results = append(results, SearchResult{
			ProviderResultID: r.ID,
			Title:            r.Title,
			Year:             r.Year,
			ExternalIDs:      r.ExternalIDs,
			Confidence:       r.Confidence,
		})
	}
	return results, nil
}

type restMetadata struct {
	Fields       map[string]string `json:"fields"`
	Completeness float64           `json:"completeness"`
	Confidence   float64           `json:"confidence"`
}

// GetMetadata implements Provider.
func (p *RESTProvider) GetMetadata(ctx context.Context, id string, fields []string) (*Metadata, error) {
	params := url.Values{}
	if len(fields) > 0 {
		params.Set("fields", strings.Join(fields, ","))
	}

	var raw restMetadata
	if err := p.getJSON(ctx, "/metadata/"+url.PathEscape(id), params, &raw); err != nil {
		return nil, err
	}
	return &Metadata{Fields: raw.Fields, Completeness: raw.Completeness, Confidence: raw.Confidence}, nil
}

type restAsset struct {
	Type        string  `json:"type"`
	URL         string  `json:"url"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Language    string  `json:"language"`
	Votes       int     `json:"votes"`
	VoteAverage float64 `json:"voteAverage"`
}

// GetAssets implements Provider.
func (p *RESTProvider) GetAssets(ctx context.Context, id string, assetTypes []string) ([]Asset, error) {
	params := url.Values{}
	if len(assetTypes) > 0 {
		params.Set("types", strings.Join(assetTypes, ","))
	}

	var raw []restAsset
	if err := p.getJSON(ctx, "/assets/"+url.PathEscape(id), params, &raw); err != nil {
		return nil, err
	}
	assets := make([]Asset, 0, len(raw))
	for _, a := range raw {
		assets = append(assets, Asset{
			AssetType:   a.Type,
			URL:         a.URL,
			Width:       a.Width,
			Height:      a.Height,
			Language:    a.Language,
			Votes:       a.Votes,
			VoteAverage: a.VoteAverage,
		})
	}
	return assets, nil
}

func (p *RESTProvider) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	target := p.baseURL + endpoint
	if encoded := params.Encode(); encoded != "" {
		target += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, "providers", "request",
			fmt.Sprintf("bad provider url %q", target), err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-Api-Key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrNetwork, "providers", "request",
			fmt.Sprintf("call %s %s", p.name, endpoint), err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp, p.name); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrProviderServer, "providers", "request",
			fmt.Sprintf("provider %s returned malformed json", p.name), err)
	}
	return nil
}

// BuildRegistry registers a REST provider for every enabled config entry.
func BuildRegistry(cfg *config.Config) (*Registry, error) {
	registry := NewRegistry()
	for _, entry := range cfg.Providers {
		if !entry.Enabled {
			continue
		}
		provider, err := NewRESTProvider(entry)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(provider); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
