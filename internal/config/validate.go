package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.DataDir) == "" {
		problems = append(problems, "paths.data_dir must be set")
	}
	if strings.TrimSpace(c.LibraryDir) == "" {
		problems = append(problems, "paths.library_dir must be set")
	}
	if strings.TrimSpace(c.CacheDir) == "" {
		problems = append(problems, "paths.cache_dir must be set")
	}
	if strings.TrimSpace(c.TrashDir) == "" {
		problems = append(problems, "paths.trash_dir must be set")
	}

	if c.Queue.MaxRetries < 0 {
		problems = append(problems, "queue.max_retries must not be negative")
	}
	if c.Queue.RetryBaseSeconds <= 0 {
		problems = append(problems, "queue.retry_base_seconds must be positive")
	}
	if c.Queue.HistoryRetentionDays < 0 {
		problems = append(problems, "queue.history_retention_days must not be negative")
	}

	if c.Workflow.Workers <= 0 {
		problems = append(problems, "workflow.workers must be positive")
	}
	if c.Workflow.QueuePollInterval <= 0 {
		problems = append(problems, "workflow.queue_poll_interval must be positive")
	}
	switch c.Workflow.AutoSelect {
	case "auto", "review":
	default:
		problems = append(problems, fmt.Sprintf("workflow.auto_select must be \"auto\" or \"review\", got %q", c.Workflow.AutoSelect))
	}

	if c.Cache.OrphanRetentionDays < 0 {
		problems = append(problems, "cache.orphan_retention_days must not be negative")
	}
	if c.Cache.MaxAssetsPerType <= 0 {
		problems = append(problems, "cache.max_assets_per_type must be positive")
	}

	if c.Fetch.FreshnessDays < 0 {
		problems = append(problems, "fetch.freshness_days must not be negative")
	}
	if c.Fetch.BreakerFailureThreshold <= 0 {
		problems = append(problems, "fetch.breaker_failure_threshold must be positive")
	}

	seen := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			problems = append(problems, "providers entries must have a name")
			continue
		}
		if _, dup := seen[name]; dup {
			problems = append(problems, fmt.Sprintf("duplicate provider %q", name))
		}
		seen[name] = struct{}{}
		if p.Enabled && strings.TrimSpace(p.BaseURL) == "" {
			problems = append(problems, fmt.Sprintf("provider %q is enabled but has no base_url", name))
		}
	}

	for _, group := range c.Players {
		if strings.TrimSpace(group.Name) == "" {
			problems = append(problems, "players entries must have a name")
		}
		if len(group.URLs) == 0 {
			problems = append(problems, fmt.Sprintf("player group %q has no urls", group.Name))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}
