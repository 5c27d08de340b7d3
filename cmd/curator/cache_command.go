package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/assetcache"
	"curator/internal/logging"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the asset cache",
	}

	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheGCCommand(ctx))

	return cacheCmd
}

func withCache(ctx *commandContext, fn func(cmd *cobra.Command, cache *assetcache.Cache) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := ctx.ensureConfig()
		if err != nil {
			return err
		}
		cache, err := assetcache.Open(cfg, logging.NewNop())
		if err != nil {
			return err
		}
		defer cache.Close()
		return fn(cmd, cache)
	}
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show asset cache usage",
		RunE: withCache(ctx, func(cmd *cobra.Command, cache *assetcache.Cache) error {
			stats, err := cache.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Blobs:    %d\n", stats.Blobs)
			fmt.Fprintf(out, "Orphaned: %d\n", stats.Orphaned)
			fmt.Fprintf(out, "Size:     %s\n", humanSize(stats.TotalSize))
			return nil
		}),
	}
}

func newCacheGCCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Remove orphaned blobs past the retention window",
		RunE: withCache(ctx, func(cmd *cobra.Command, cache *assetcache.Cache) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			retention := time.Duration(cfg.Cache.OrphanRetentionDays) * 24 * time.Hour
			removed, err := cache.GarbageCollect(cmd.Context(), retention)
			if err != nil {
				return err
			}
			if removed == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No orphaned blobs eligible for removal")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d orphaned blob(s)\n", removed)
			return nil
		}),
	}
}
