package recycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"curator/internal/fileutil"
	"curator/internal/logging"
)

const manifestName = "manifest.json"

// Entry records where a recycled file came from and when it was moved.
type Entry struct {
	ID         string    `json:"id"`
	OriginPath string    `json:"origin_path"`
	StoredName string    `json:"stored_name"`
	Reason     string    `json:"reason"`
	RecycledAt time.Time `json:"recycled_at"`
}

// Bin moves files into a tracked trash directory instead of deleting them.
type Bin struct {
	root   string
	logger *slog.Logger
}

// NewBin constructs a recycle bin rooted at dir.
func NewBin(dir string, logger *slog.Logger) (*Bin, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("recycle: trash directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recycle: create trash directory: %w", err)
	}
	return &Bin{root: dir, logger: logging.NewComponentLogger(logger, "recycle")}, nil
}

// Recycle moves path into the bin and appends a manifest entry. The original
// file name is preserved inside a unique per-entry directory so repeated
// recycles of the same name never collide.
func (b *Bin) Recycle(path, reason string) (Entry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Entry{}, errors.New("recycle: empty path")
	}
	if _, err := os.Stat(path); err != nil {
		return Entry{}, fmt.Errorf("recycle: inspect %q: %w", path, err)
	}

	id := uuid.NewString()
	entryDir := filepath.Join(b.root, id)
	if err := os.MkdirAll(entryDir, 0o755); err != nil {
		return Entry{}, fmt.Errorf("recycle: create entry directory: %w", err)
	}
	target := filepath.Join(entryDir, filepath.Base(path))

	if err := os.Rename(path, target); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
			if copyErr := fileutil.CopyFile(path, target); copyErr != nil {
				return Entry{}, fmt.Errorf("recycle: copy across filesystems: %w", copyErr)
			}
			if rmErr := os.Remove(path); rmErr != nil {
				b.logger.Warn("failed to remove origin after cross-device recycle", logging.Error(rmErr))
			}
		} else {
			return Entry{}, fmt.Errorf("recycle: move %q: %w", path, err)
		}
	}

	entry := Entry{
		ID:         id,
		OriginPath: path,
		StoredName: filepath.Base(path),
		Reason:     strings.TrimSpace(reason),
		RecycledAt: time.Now().UTC(),
	}
	if err := b.appendManifest(entry); err != nil {
		return Entry{}, err
	}

	b.logger.Info("recycled file",
		logging.String("origin", path),
		logging.String("reason", entry.Reason),
		logging.String("entry_id", id),
	)
	return entry, nil
}

// Entries returns the manifest contents, oldest first.
func (b *Bin) Entries() ([]Entry, error) {
	data, err := os.ReadFile(filepath.Join(b.root, manifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("recycle: read manifest: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("recycle: parse manifest: %w", err)
	}
	return entries, nil
}

// Prune permanently removes recycled entries older than the cutoff and
// rewrites the manifest. Returns the number of entries removed.
func (b *Bin) Prune(cutoff time.Time) (int, error) {
	entries, err := b.Entries()
	if err != nil {
		return 0, err
	}
	kept := entries[:0]
	removed := 0
	for _, entry := range entries {
		if entry.RecycledAt.Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(b.root, entry.ID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return removed, fmt.Errorf("recycle: prune entry %s: %w", entry.ID, err)
			}
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	if removed > 0 {
		if err := b.writeManifest(kept); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (b *Bin) appendManifest(entry Entry) error {
	entries, err := b.Entries()
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	return b.writeManifest(entries)
}

func (b *Bin) writeManifest(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("recycle: encode manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(b.root, manifestName), data, 0o644)
}
