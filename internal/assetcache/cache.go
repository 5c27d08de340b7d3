package assetcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"curator/internal/config"
	"curator/internal/fileutil"
	"curator/internal/logging"
	"curator/internal/services"
)

// Blob describes one content-addressed cache entry.
type Blob struct {
	ContentHash    string
	FilePath       string
	Size           int64
	AssetKind      string
	Width          int
	Height         int
	PerceptualHash string
	ReferenceCount int
	FirstUsedAt    time.Time
	LastUsedAt     time.Time
	OrphanedAt     *time.Time
}

// Stats summarizes cache occupancy.
type Stats struct {
	Blobs     int
	Orphaned  int
	TotalSize int64
}

// Cache is the content-addressed blob store. It owns both the sharded file
// tree and the SQLite index that tracks reference counts.
type Cache struct {
	root   string
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open initializes the cache under cfg.CacheDir.
func Open(cfg *config.Config, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	root := cfg.CacheDir
	if strings.TrimSpace(root) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "assetcache", "open", "cache_dir is not configured", nil)
	}
	if err := os.MkdirAll(filepath.Join(root, "blobs"), 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(root, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("open cache index: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(blobSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure blob schema: %w", err)
	}

	return &Cache{
		root:   root,
		db:     db,
		logger: logger.With(logging.String(logging.FieldComponent, "assetcache")),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

const blobSchema = `
CREATE TABLE IF NOT EXISTS blobs (
    content_hash TEXT PRIMARY KEY,
    file_path TEXT NOT NULL,
    size INTEGER NOT NULL,
    asset_kind TEXT NOT NULL,
    width INTEGER NOT NULL DEFAULT 0,
    height INTEGER NOT NULL DEFAULT 0,
    perceptual_hash TEXT,
    reference_count INTEGER NOT NULL DEFAULT 0,
    first_used_at TEXT NOT NULL,
    last_used_at TEXT NOT NULL,
    orphaned_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_blobs_orphaned ON blobs (orphaned_at) WHERE orphaned_at IS NOT NULL;
`

// Close closes the cache index.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// SetClock overrides the cache's time source (used in tests).
func (c *Cache) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Store writes content into the cache, deduplicating on SHA-256. Identical
// bytes map to the same blob with exactly one physical write. New blobs start
// unreferenced, with the orphan grace period already running; callers take a
// reference to keep them.
func (c *Cache) Store(ctx context.Context, data []byte, assetKind, ext string) (*Blob, bool, error) {
	if len(data) == 0 {
		return nil, false, services.Wrap(services.ErrValidation, "assetcache", "store", "empty content", nil)
	}

	hash := fileutil.HashBytes(data)
	existing, err := c.Get(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	relPath := shardedPath(hash, ext)
	absPath := filepath.Join(c.root, "blobs", relPath)
	if err := writeBlobFile(absPath, data); err != nil {
		return nil, false, err
	}

	blob := &Blob{
		ContentHash: hash,
		FilePath:    relPath,
		Size:        int64(len(data)),
		AssetKind:   assetKind,
	}
	if probe, ok := probeImage(data); ok {
		blob.Width = probe.Width
		blob.Height = probe.Height
		blob.PerceptualHash = probe.PerceptualHash
	}

	now := c.now()
	res, err := c.db.ExecContext(
		ctx,
		`INSERT INTO blobs (content_hash, file_path, size, asset_kind, width, height, perceptual_hash,
             reference_count, first_used_at, last_used_at, orphaned_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
         ON CONFLICT(content_hash) DO NOTHING`,
		hash,
		relPath,
		blob.Size,
		assetKind,
		blob.Width,
		blob.Height,
		nullableString(blob.PerceptualHash),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, false, fmt.Errorf("index blob: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// A concurrent writer indexed the same content first; the file on
		// disk is byte-identical, so just return the winner's row.
		winner, err := c.Get(ctx, hash)
		if err != nil {
			return nil, false, err
		}
		if winner == nil {
			return nil, false, fmt.Errorf("blob %s vanished during store", hash)
		}
		return winner, false, nil
	}

	blob.FirstUsedAt = now
	blob.LastUsedAt = now
	orphaned := now
	blob.OrphanedAt = &orphaned
	c.logger.Debug("stored blob",
		logging.String("hash", hash),
		logging.String("kind", assetKind),
		logging.Int64("size", blob.Size))
	return blob, true, nil
}

// Get fetches a blob record by content hash.
func (c *Cache) Get(ctx context.Context, hash string) (*Blob, error) {
	row := c.db.QueryRowContext(
		ctx,
		`SELECT content_hash, file_path, size, asset_kind, width, height, perceptual_hash,
             reference_count, first_used_at, last_used_at, orphaned_at
         FROM blobs WHERE content_hash = ?`,
		hash,
	)
	blob, err := scanBlob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return blob, nil
}

// AbsolutePath returns the on-disk location of a blob's content.
func (c *Cache) AbsolutePath(blob *Blob) string {
	return filepath.Join(c.root, "blobs", blob.FilePath)
}

// Open returns the blob record and its on-disk path, failing when either the
// index row or the backing file is missing.
func (c *Cache) Open(ctx context.Context, hash string) (*Blob, string, error) {
	blob, err := c.Get(ctx, hash)
	if err != nil {
		return nil, "", err
	}
	if blob == nil {
		return nil, "", services.Wrap(services.ErrNotFound, "assetcache", "open", fmt.Sprintf("blob %s not indexed", hash), nil)
	}
	path := c.AbsolutePath(blob)
	if _, err := os.Stat(path); err != nil {
		return nil, "", services.Wrap(services.ErrNotFound, "assetcache", "open", fmt.Sprintf("blob file missing for %s", hash), err)
	}
	return blob, path, nil
}

// IncrementRef takes a reference on a blob, clearing any orphan state. The
// single-statement update serializes concurrent adjustments on one hash.
func (c *Cache) IncrementRef(ctx context.Context, hash string) error {
	res, err := c.db.ExecContext(
		ctx,
		`UPDATE blobs SET reference_count = reference_count + 1, orphaned_at = NULL, last_used_at = ?
         WHERE content_hash = ?`,
		c.now().Format(time.RFC3339Nano),
		hash,
	)
	if err != nil {
		return fmt.Errorf("increment ref: %w", err)
	}
	return requireBlob(res, hash, "increment ref")
}

// DecrementRef releases a reference. Reaching zero starts the orphan grace
// period; the count never goes below zero.
func (c *Cache) DecrementRef(ctx context.Context, hash string) error {
	now := c.now().Format(time.RFC3339Nano)
	res, err := c.db.ExecContext(
		ctx,
		`UPDATE blobs SET
             reference_count = MAX(reference_count - 1, 0),
             orphaned_at = CASE WHEN reference_count <= 1 THEN ? ELSE orphaned_at END,
             last_used_at = ?
         WHERE content_hash = ?`,
		now,
		now,
		hash,
	)
	if err != nil {
		return fmt.Errorf("decrement ref: %w", err)
	}
	return requireBlob(res, hash, "decrement ref")
}

// GarbageCollect removes blobs that have been orphaned longer than the
// retention window. Reference counts are rechecked inside the delete so a
// blob re-referenced during the sweep survives.
func (c *Cache) GarbageCollect(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := c.now().Add(-retention).Format(time.RFC3339Nano)

	rows, err := c.db.QueryContext(
		ctx,
		`SELECT content_hash, file_path FROM blobs
         WHERE orphaned_at IS NOT NULL AND orphaned_at < ? AND reference_count = 0`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("list orphaned blobs: %w", err)
	}
	type victim struct {
		hash string
		path string
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.hash, &v.path); err != nil {
			rows.Close()
			return 0, err
		}
		victims = append(victims, v)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	removed := 0
	for _, v := range victims {
		res, err := c.db.ExecContext(
			ctx,
			`DELETE FROM blobs WHERE content_hash = ? AND reference_count = 0
                 AND orphaned_at IS NOT NULL AND orphaned_at < ?`,
			v.hash,
			cutoff,
		)
		if err != nil {
			return removed, fmt.Errorf("delete blob row %s: %w", v.hash, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return removed, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// Re-referenced between the sweep and the delete.
			continue
		}
		absPath := filepath.Join(c.root, "blobs", v.path)
		if err := os.Remove(absPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("failed to remove blob file",
				logging.String("hash", v.hash),
				logging.Error(err))
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("garbage collected blobs", logging.Int("removed", removed))
	}
	return removed, nil
}

// Stats reports blob counts and total cached bytes.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	row := c.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1), COALESCE(SUM(size), 0),
             COALESCE(SUM(CASE WHEN orphaned_at IS NOT NULL THEN 1 ELSE 0 END), 0)
         FROM blobs`,
	)
	if err := row.Scan(&stats.Blobs, &stats.TotalSize, &stats.Orphaned); err != nil {
		return stats, fmt.Errorf("cache stats: %w", err)
	}
	return stats, nil
}

func requireBlob(res sql.Result, hash, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "assetcache", op, fmt.Sprintf("blob %s not indexed", hash), nil)
	}
	return nil
}

func shardedPath(hash, ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(hash[0:2], hash[2:4], hash+ext)
}

func writeBlobFile(absPath string, data []byte) error {
	if _, err := os.Stat(absPath); err == nil {
		// Content already on disk from an earlier or concurrent store.
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("create shard directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(absPath), ".blob-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpName, absPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("finalize blob: %w", err)
	}
	return nil
}

func scanBlob(scanner interface{ Scan(dest ...any) error }) (*Blob, error) {
	var (
		blob        Blob
		phash       sql.NullString
		firstRaw    string
		lastRaw     string
		orphanedRaw sql.NullString
	)
	if err := scanner.Scan(
		&blob.ContentHash,
		&blob.FilePath,
		&blob.Size,
		&blob.AssetKind,
		&blob.Width,
		&blob.Height,
		&phash,
		&blob.ReferenceCount,
		&firstRaw,
		&lastRaw,
		&orphanedRaw,
	); err != nil {
		return nil, err
	}
	blob.PerceptualHash = phash.String
	if first, err := time.Parse(time.RFC3339Nano, firstRaw); err == nil {
		blob.FirstUsedAt = first
	}
	if last, err := time.Parse(time.RFC3339Nano, lastRaw); err == nil {
		blob.LastUsedAt = last
	}
	if orphanedRaw.Valid {
		if orphaned, err := time.Parse(time.RFC3339Nano, orphanedRaw.String); err == nil {
			blob.OrphanedAt = &orphaned
		}
	}
	return &blob, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
