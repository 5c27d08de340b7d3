package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"curator/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueHistoryCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func withQueueStore(ctx *commandContext, fn func(cmd *cobra.Command, store *queue.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := ctx.ensureConfig()
		if err != nil {
			return err
		}
		store, err := queue.Open(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(cmd, store)
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active jobs",
		RunE: withQueueStore(ctx, func(cmd *cobra.Command, store *queue.Store) error {
			jobs, err := store.List(cmd.Context(), queue.StatusPending, queue.StatusProcessing)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				manual := ""
				if job.Manual {
					manual = "manual"
				}
				notBefore := "-"
				if job.NotBefore != nil {
					notBefore = humanAge(*job.NotBefore)
				}
				rows = append(rows, []string{
					strconv.FormatInt(job.ID, 10),
					string(job.Type),
					strconv.Itoa(int(job.Priority)),
					string(job.Status),
					fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries),
					notBefore,
					humanAge(job.CreatedAt),
					manual,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Type", "Priority", "Status", "Retries", "Not Before", "Created", ""},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
			))
			return nil
		}),
	}
}

func newQueueHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived jobs",
		RunE: withQueueStore(ctx, func(cmd *cobra.Command, store *queue.Store) error {
			entries, err := store.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "History is empty")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				message := entry.ErrorMessage
				if len(message) > 60 {
					message = message[:57] + "..."
				}
				rows = append(rows, []string{
					strconv.FormatInt(entry.ID, 10),
					string(entry.Type),
					string(entry.Result),
					strconv.Itoa(entry.RetryCount),
					humanAge(entry.FinishedAt),
					message,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Type", "Result", "Retries", "Finished", "Error"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <history-id>...",
		Short: "Re-enqueue archived failed jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: withQueueStore(ctx, func(cmd *cobra.Command, store *queue.Store) error {
			args := cmd.Flags().Args()
			wanted := make(map[int64]bool, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid history id %q", arg)
				}
				wanted[id] = true
			}

			entries, err := store.History(cmd.Context(), 500)
			if err != nil {
				return err
			}
			retried := 0
			for _, entry := range entries {
				if !wanted[entry.ID] {
					continue
				}
				delete(wanted, entry.ID)
				if entry.Result != queue.ResultFailed {
					fmt.Fprintf(cmd.OutOrStdout(), "#%d was %s, skipping\n", entry.ID, entry.Result)
					continue
				}
				payload, err := queue.DecodePayload(&queue.Job{Type: entry.Type, Payload: entry.Payload})
				if err != nil {
					return fmt.Errorf("history entry %d: %w", entry.ID, err)
				}
				job, err := store.Enqueue(cmd.Context(), queue.Spec{
					Payload:  payload,
					Priority: queue.PriorityHigh,
					Manual:   true,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Re-enqueued #%d as job %d\n", entry.ID, job.ID)
				retried++
			}
			for id := range wanted {
				fmt.Fprintf(cmd.OutOrStdout(), "#%d not found in history\n", id)
			}
			if retried == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing re-enqueued")
			}
			return nil
		}),
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <job-id>...",
		Short: "Remove pending jobs without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: withQueueStore(ctx, func(cmd *cobra.Command, store *queue.Store) error {
			for _, arg := range cmd.Flags().Args() {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid job id %q", arg)
				}
				removed, err := store.Remove(cmd.Context(), id)
				if err != nil {
					return err
				}
				if removed {
					fmt.Fprintf(cmd.OutOrStdout(), "Removed job %d\n", id)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %d not found\n", id)
				}
			}
			return nil
		}),
	}
}
