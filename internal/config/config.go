package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LibraryDir string `toml:"library_dir"`
	CacheDir   string `toml:"cache_dir"`
	TrashDir   string `toml:"trash_dir"`
	LogDir     string `toml:"log_dir"`
}

// Library contains configuration for the media library structure.
type Library struct {
	MoviesDir      string   `toml:"movies_dir"`
	TVDir          string   `toml:"tv_dir"`
	MediaExts      []string `toml:"media_extensions"`
	IgnorePatterns []string `toml:"ignore_patterns"`
}

// Queue contains job queue retry and history policy.
type Queue struct {
	MaxRetries           int `toml:"max_retries"`
	RetryBaseSeconds     int `toml:"retry_base_seconds"`
	RetryCapSeconds      int `toml:"retry_cap_seconds"`
	HistoryRetentionDays int `toml:"history_retention_days"`
}

// Workflow contains daemon timing and phase-enablement configuration.
type Workflow struct {
	Workers            int    `toml:"workers"`
	QueuePollInterval  int    `toml:"queue_poll_interval"`
	ErrorRetryInterval int    `toml:"error_retry_interval"`
	EnrichEnabled      bool   `toml:"enrich_enabled"`
	PublishEnabled     bool   `toml:"publish_enabled"`
	NotifyEnabled      bool   `toml:"notify_enabled"`
	AutoSelect         string `toml:"auto_select"`
	VerifyInterval     int    `toml:"verify_interval_hours"`
}

// Cache contains content-addressed cache policy.
type Cache struct {
	OrphanRetentionDays int `toml:"orphan_retention_days"`
	MaxAssetsPerType    int `toml:"max_assets_per_type"`
}

// Fetch contains provider fetch tuning.
type Fetch struct {
	FreshnessDays           int `toml:"freshness_days"`
	ProviderTimeoutSeconds  int `toml:"provider_timeout_seconds"`
	DownloadTimeoutSeconds  int `toml:"download_timeout_seconds"`
	BreakerFailureThreshold int `toml:"breaker_failure_threshold"`
	BreakerCooldownSeconds  int `toml:"breaker_cooldown_seconds"`
}

// Provider describes one metadata/asset provider endpoint.
type Provider struct {
	Name    string `toml:"name"`
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// PlayerGroup describes a group of redundant media-player instances.
type PlayerGroup struct {
	Name           string   `toml:"name"`
	URLs           []string `toml:"urls"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config is the root configuration document.
type Config struct {
	Paths     `toml:"paths"`
	Library   Library       `toml:"library"`
	Queue     Queue         `toml:"queue"`
	Workflow  Workflow      `toml:"workflow"`
	Cache     Cache         `toml:"cache"`
	Fetch     Fetch         `toml:"fetch"`
	Providers []Provider    `toml:"providers"`
	Players   []PlayerGroup `toml:"players"`
	Logging   Logging       `toml:"logging"`
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	return expandPath("~/.config/curator/config.toml")
}

// Load reads configuration from path (or the default location when empty).
// It returns the resolved config, the path consulted, and whether a config
// file was found there; a missing file falls back to defaults.
func Load(path string) (*Config, string, bool, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = DefaultConfigPath()
	} else {
		resolved = expandPath(resolved)
	}

	cfg := Default()
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.normalize()
			if verr := cfg.Validate(); verr != nil {
				return nil, resolved, false, verr
			}
			return &cfg, resolved, false, nil
		}
		return nil, resolved, false, fmt.Errorf("read config %q: %w", resolved, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, resolved, true, fmt.Errorf("parse config %q: %w", resolved, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, resolved, true, err
	}
	return &cfg, resolved, true, nil
}

// WriteSample writes the embedded sample config to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	path = expandPath(path)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.LibraryDir, c.CacheDir, c.TrashDir, c.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ProviderByName returns the configured provider entry, if any.
func (c *Config) ProviderByName(name string) (Provider, bool) {
	for _, p := range c.Providers {
		if strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
			return p, true
		}
	}
	return Provider{}, false
}

func (c *Config) normalize() {
	c.DataDir = expandPath(c.DataDir)
	c.LibraryDir = expandPath(c.LibraryDir)
	c.CacheDir = expandPath(c.CacheDir)
	c.TrashDir = expandPath(c.TrashDir)
	c.LogDir = expandPath(c.LogDir)
	c.Workflow.AutoSelect = strings.ToLower(strings.TrimSpace(c.Workflow.AutoSelect))
	if len(c.Library.MediaExts) == 0 {
		c.Library.MediaExts = defaultMediaExtensions()
	}
	for i, ext := range c.Library.MediaExts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Library.MediaExts[i] = ext
	}
}

func expandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
