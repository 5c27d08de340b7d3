package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/assetcache"
	"curator/internal/catalog"
	"curator/internal/logging"
	"curator/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue, catalog, and cache health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			jobs, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer jobs.Close()
			store, err := catalog.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			cache, err := assetcache.Open(cfg, logging.NewNop())
			if err != nil {
				return err
			}
			defer cache.Close()

			queueStats, err := jobs.Stats(cmd.Context())
			if err != nil {
				return err
			}
			cacheStats, err := cache.Stats(cmd.Context())
			if err != nil {
				return err
			}

			entityCount := 0
			for _, entityType := range []catalog.EntityType{catalog.EntityMovie, catalog.EntitySeries, catalog.EntityEpisode} {
				entities, err := store.ListEntities(cmd.Context(), entityType)
				if err != nil {
					return err
				}
				entityCount += len(entities)
			}

			oldest := "-"
			if queueStats.OldestPendingAge > 0 {
				oldest = queueStats.OldestPendingAge.Round(time.Second).String()
			}
			rows := [][]string{
				{"Entities tracked", fmt.Sprintf("%d", entityCount)},
				{"Jobs pending", fmt.Sprintf("%d", queueStats.Pending)},
				{"Jobs processing", fmt.Sprintf("%d", queueStats.Processing)},
				{"Oldest pending", oldest},
				{"Cached blobs", fmt.Sprintf("%d", cacheStats.Blobs)},
				{"Orphaned blobs", fmt.Sprintf("%d", cacheStats.Orphaned)},
				{"Cache size", humanSize(cacheStats.TotalSize)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Metric", "Value"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}
