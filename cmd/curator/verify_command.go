package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"curator/internal/queue"
)

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	var typeFlag string
	cmd := &cobra.Command{
		Use:   "verify <entity-id>",
		Short: "Enqueue a library verification for one entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			entityType, id, err := parseEntityRef(typeFlag, args[0])
			if err != nil {
				return err
			}

			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			job, err := store.Enqueue(cmd.Context(), queue.Spec{
				Payload: queue.VerifyPayload{
					EntityType: string(entityType),
					EntityID:   id,
				},
				Priority: queue.PriorityHigh,
				Manual:   true,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued verification of %s %d as job %d\n", entityType, id, job.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&typeFlag, "type", "movie", "Entity type (movie, series, episode)")
	return cmd
}
