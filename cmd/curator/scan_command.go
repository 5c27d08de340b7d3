package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"curator/internal/queue"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [directory]",
		Short: "Enqueue a library directory scan",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dir := cfg.LibraryDir
			if len(args) == 1 {
				dir, err = filepath.Abs(args[0])
				if err != nil {
					return fmt.Errorf("resolve directory: %w", err)
				}
			}

			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			job, err := store.Enqueue(cmd.Context(), queue.Spec{
				Payload:  queue.DirectoryScanPayload{LibraryID: 1, DirectoryPath: dir},
				Priority: queue.PriorityHigh,
				Manual:   true,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued scan of %s as job %d\n", dir, job.ID)
			return nil
		},
	}
}
