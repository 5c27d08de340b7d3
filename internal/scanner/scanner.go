package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/fileutil"
	"curator/internal/logging"
	"curator/internal/services"
)

var yearSuffix = regexp.MustCompile(`^(.*?)[ .(_-]+\(?((?:19|20)\d{2})\)?$`)

// Result summarizes one directory scan.
type Result struct {
	Created  []*catalog.Entity
	Seen     int
	Skipped  int
	Rehashed int
}

// Scanner walks library directories and registers media entities.
type Scanner struct {
	catalog   *catalog.Store
	mediaExts map[string]bool
	ignore    []string
	tvDir     string
	titler    cases.Caser
	logger    *slog.Logger
}

// New wires a scanner from configuration.
func New(cfg *config.Config, store *catalog.Store, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = logging.NewNop()
	}
	exts := make(map[string]bool, len(cfg.Library.MediaExts))
	for _, ext := range cfg.Library.MediaExts {
		exts[strings.ToLower(ext)] = true
	}
	return &Scanner{
		catalog:   store,
		mediaExts: exts,
		ignore:    cfg.Library.IgnorePatterns,
		tvDir:     cfg.Library.TVDir,
		titler:    cases.Title(language.English),
		logger:    logger.With(logging.String(logging.FieldComponent, "scanner")),
	}
}

// Scan walks dir recursively, registering one entity per media file found.
// Already-tracked entities are rehashed only when their primary hash is
// missing; re-running a scan is cheap and safe.
func (s *Scanner) Scan(ctx context.Context, dir string) (*Result, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, services.Wrap(services.ErrValidation, "scanner", "scan", "directory path is required", nil)
	}

	result := &Result{}
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := entry.Name()
		if entry.IsDir() {
			if path != dir && s.ignored(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.ignored(name) || !s.mediaExts[strings.ToLower(filepath.Ext(name))] {
			result.Skipped++
			return nil
		}

		result.Seen++
		if err := s.register(ctx, path, result); err != nil {
			s.logger.Warn("failed to register media file",
				logging.String("path", path),
				logging.Error(err))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	s.logger.Info("scan finished",
		logging.String("dir", dir),
		logging.Int("seen", result.Seen),
		logging.Int("created", len(result.Created)))
	return result, nil
}

func (s *Scanner) register(ctx context.Context, mediaFile string, result *Result) error {
	mediaDir := filepath.Dir(mediaFile)
	title, year := ParseTitle(filepath.Base(mediaFile))
	title = s.titler.String(title)

	entity := &catalog.Entity{
		EntityType:    s.classify(mediaDir),
		Title:         title,
		Year:          year,
		MediaPath:     mediaDir,
		MediaFilename: filepath.Base(mediaFile),
		Monitored:     true,
	}
	created, err := s.catalog.UpsertEntityByPath(ctx, entity)
	if err != nil {
		return err
	}
	if created {
		result.Created = append(result.Created, entity)
	}
	if entity.PrimaryFileHash == "" {
		hash, err := fileutil.HashFile(mediaFile)
		if err != nil {
			return fmt.Errorf("hash media file: %w", err)
		}
		if err := s.catalog.SetPrimaryFileHash(ctx, entity.EntityType, entity.ID, hash); err != nil {
			return err
		}
		entity.PrimaryFileHash = hash
		result.Rehashed++
	}
	return nil
}

func (s *Scanner) classify(mediaDir string) catalog.EntityType {
	if s.tvDir == "" {
		return catalog.EntityMovie
	}
	for _, segment := range strings.Split(filepath.ToSlash(mediaDir), "/") {
		if strings.EqualFold(segment, s.tvDir) {
			return catalog.EntityEpisode
		}
	}
	return catalog.EntityMovie
}

func (s *Scanner) ignored(name string) bool {
	for _, pattern := range s.ignore {
		if matched, err := filepath.Match(pattern, name); err == nil && matched {
			return true
		}
	}
	return false
}

// ParseTitle extracts a display title and optional year from a media file
// name like "The.Thing.1982.mkv" or "The Thing (1982).mkv".
func ParseTitle(filename string) (string, int) {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	year := 0
	if match := yearSuffix.FindStringSubmatch(base); match != nil {
		base = match[1]
		if parsed, err := strconv.Atoi(match[2]); err == nil {
			year = parsed
		}
	}
	base = strings.NewReplacer(".", " ", "_", " ").Replace(base)
	base = strings.Join(strings.Fields(base), " ")
	return base, year
}
