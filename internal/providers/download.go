package providers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"curator/internal/assetcache"
	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/services"
)

// maxDownloadBytes bounds a single asset download.
const maxDownloadBytes = 64 << 20

// Downloader fetches candidate URLs into the content-addressed cache. A
// downloaded candidate holds one cache reference until it is deleted.
type Downloader struct {
	client  *http.Client
	cache   *assetcache.Cache
	catalog *catalog.Store
	timeout time.Duration
	logger  *slog.Logger
}

// NewDownloader wires a downloader with the configured hard timeout.
func NewDownloader(cfg *config.Config, cache *assetcache.Cache, store *catalog.Store, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := time.Duration(cfg.Fetch.DownloadTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Downloader{
		client:  &http.Client{Timeout: timeout},
		cache:   cache,
		catalog: store,
		timeout: timeout,
		logger:  logger.With(logging.String(logging.FieldComponent, "downloader")),
	}
}

// DownloadCandidate fetches the candidate's URL, stores the bytes in the
// cache, takes a reference, and links the candidate to the content hash.
// Re-running on an already downloaded candidate is a no-op.
func (d *Downloader) DownloadCandidate(ctx context.Context, candidate *catalog.AssetCandidate) (*assetcache.Blob, error) {
	if candidate == nil || candidate.ID == 0 {
		return nil, services.Wrap(services.ErrValidation, "providers", "download", "persisted candidate is required", nil)
	}
	if candidate.IsDownloaded && candidate.ContentHash != "" {
		blob, _, err := d.cache.Open(ctx, candidate.ContentHash)
		if err == nil {
			return blob, nil
		}
		// Cache content went missing; fall through and re-download.
	}

	dctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dctx, http.MethodGet, candidate.URL, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "providers", "download",
			fmt.Sprintf("bad candidate url %q", candidate.URL), err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrNetwork, "providers", "download",
			fmt.Sprintf("fetch %q", candidate.URL), err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp, candidate.Provider); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, services.Wrap(services.ErrNetwork, "providers", "download", "read response body", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, services.Wrap(services.ErrExhausted, "providers", "download",
			fmt.Sprintf("asset exceeds %d byte limit", maxDownloadBytes), nil)
	}
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrNetwork, "providers", "download", "empty response body", nil)
	}

	blob, created, err := d.cache.Store(ctx, data, candidate.AssetType, urlExtension(candidate.URL))
	if err != nil {
		return nil, err
	}
	if err := d.cache.IncrementRef(ctx, blob.ContentHash); err != nil {
		return nil, err
	}
	if err := d.catalog.MarkCandidateDownloaded(ctx, candidate.ID, blob.ContentHash); err != nil {
		// Roll the reference back so the blob does not leak.
		_ = d.cache.DecrementRef(ctx, blob.ContentHash)
		return nil, err
	}
	candidate.IsDownloaded = true
	candidate.ContentHash = blob.ContentHash

	d.logger.Debug("downloaded candidate",
		logging.Int64("candidate", candidate.ID),
		logging.String("hash", blob.ContentHash),
		logging.Bool("deduped", !created))
	return blob, nil
}

// classifyStatus maps an HTTP response to the provider error taxonomy.
func classifyStatus(resp *http.Response, provider string) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Provider: provider, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrAuthentication, "providers", "download",
			fmt.Sprintf("provider %s returned %d", provider, resp.StatusCode), nil)
	case resp.StatusCode >= 500:
		return services.Wrap(services.ErrProviderServer, "providers", "download",
			fmt.Sprintf("provider %s returned %d", provider, resp.StatusCode), nil)
	default:
		return services.Wrap(services.ErrNetwork, "providers", "download",
			fmt.Sprintf("provider %s returned %d", provider, resp.StatusCode), nil)
	}
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
	}
	return 0
}

func urlExtension(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return path.Ext(parsed.Path)
}
