package config

const (
	defaultDataDir    = "~/.local/share/curator"
	defaultLibraryDir = "~/library"
	defaultCacheDir   = "~/.local/share/curator/cache"
	defaultTrashDir   = "~/.local/share/curator/trash"
	defaultLogDir     = "~/.local/share/curator/logs"

	defaultMoviesDir = "movies"
	defaultTVDir     = "tv"

	defaultMaxRetries           = 3
	defaultRetryBaseSeconds     = 30
	defaultRetryCapSeconds      = 600
	defaultHistoryRetentionDays = 30

	defaultWorkers            = 2
	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultVerifyInterval     = 24
	defaultAutoSelect         = "auto"

	defaultOrphanRetentionDays = 14
	defaultMaxAssetsPerType    = 3

	defaultFreshnessDays           = 7
	defaultProviderTimeoutSeconds  = 10
	defaultDownloadTimeoutSeconds  = 30
	defaultBreakerFailureThreshold = 5
	defaultBreakerCooldownSeconds  = 60

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

func defaultMediaExtensions() []string {
	return []string{".mkv", ".mp4", ".m4v", ".mov", ".avi"}
}

func defaultIgnorePatterns() []string {
	return []string{".*", "Thumbs.db", "desktop.ini", ".DS_Store"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LibraryDir: defaultLibraryDir,
			CacheDir:   defaultCacheDir,
			TrashDir:   defaultTrashDir,
			LogDir:     defaultLogDir,
		},
		Library: Library{
			MoviesDir:      defaultMoviesDir,
			TVDir:          defaultTVDir,
			MediaExts:      defaultMediaExtensions(),
			IgnorePatterns: defaultIgnorePatterns(),
		},
		Queue: Queue{
			MaxRetries:           defaultMaxRetries,
			RetryBaseSeconds:     defaultRetryBaseSeconds,
			RetryCapSeconds:      defaultRetryCapSeconds,
			HistoryRetentionDays: defaultHistoryRetentionDays,
		},
		Workflow: Workflow{
			Workers:            defaultWorkers,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			EnrichEnabled:      true,
			PublishEnabled:     true,
			NotifyEnabled:      true,
			AutoSelect:         defaultAutoSelect,
			VerifyInterval:     defaultVerifyInterval,
		},
		Cache: Cache{
			OrphanRetentionDays: defaultOrphanRetentionDays,
			MaxAssetsPerType:    defaultMaxAssetsPerType,
		},
		Fetch: Fetch{
			FreshnessDays:           defaultFreshnessDays,
			ProviderTimeoutSeconds:  defaultProviderTimeoutSeconds,
			DownloadTimeoutSeconds:  defaultDownloadTimeoutSeconds,
			BreakerFailureThreshold: defaultBreakerFailureThreshold,
			BreakerCooldownSeconds:  defaultBreakerCooldownSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
