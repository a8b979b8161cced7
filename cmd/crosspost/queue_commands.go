package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"crosspost/internal/config"
	"crosspost/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the publish queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueResetStuckCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List publish jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []queue.Status
			for _, raw := range listStatuses {
				status, ok := queue.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				statuses = append(statuses, status)
			}

			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				jobs, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}

				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.ID,
						string(job.Status),
						strings.Join(job.Platforms, ","),
						job.Metadata.Title,
						strconv.Itoa(job.Attempts),
						job.CreatedAt.Local().Format("2006-01-02 15:04"),
					})
				}
				out := renderTable(
					[]string{"ID", "Status", "Platforms", "Title", "Attempts", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (repeatable)")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with per-platform results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				job, err := store.GetByID(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job:       %s\n", job.ID)
				fmt.Fprintf(out, "Status:    %s\n", job.Status)
				fmt.Fprintf(out, "Title:     %s\n", job.Metadata.Title)
				fmt.Fprintf(out, "Source:    %s\n", job.SourceMediaRef)
				fmt.Fprintf(out, "Attempts:  %d/%d\n", job.Attempts, job.MaxAttempts)
				fmt.Fprintf(out, "Created:   %s\n", job.CreatedAt.Local().Format(time.RFC3339))
				if !job.ScheduledFor.IsZero() {
					fmt.Fprintf(out, "Scheduled: %s\n", job.ScheduledFor.Local().Format(time.RFC3339))
				}
				if job.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:     %s\n", job.ErrorMessage)
				}

				rows := make([][]string, 0, len(job.Platforms))
				for _, platform := range job.Platforms {
					result := job.Results[platform]
					detail := result.PostID
					if result.State == queue.PlatformFailed {
						detail = result.Error
						if result.ErrorKind != "" {
							detail = fmt.Sprintf("[%s] %s", result.ErrorKind, result.Error)
						}
					}
					rows = append(rows, []string{platform, string(result.State), detail})
				}
				out2 := renderTable(
					[]string{"Platform", "State", "Detail"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft},
				)
				fmt.Fprintln(out, out2)
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a finished job for its failed platforms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				job, err := store.RetryFailedPlatforms(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued job %s for %v\n", job.ID, job.PendingPlatforms())
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Delete a single job from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				removed, err := store.Remove(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("job %s not found", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", args[0])
				return nil
			})
		},
	}
}

func newQueueResetStuckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-stuck",
		Short: "Return processing jobs to the queue",
		Long: "Return all processing jobs to queued state. Use after a daemon crash " +
			"when jobs were left mid-flight; a running daemon reclaims stale jobs on its own.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				reset, err := store.ResetStuckProcessing(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d jobs\n", reset)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove completed jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				var (
					removed int64
					err     error
				)
				if clearAll {
					removed, err = store.Clear(cmd.Context())
				} else {
					removed, err = store.ClearDone(cmd.Context())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d jobs\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearAll, "all", false, "Remove every job regardless of status")
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if len(stats) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}

				statuses := make([]string, 0, len(stats))
				for status := range stats {
					statuses = append(statuses, string(status))
				}
				sort.Strings(statuses)

				rows := make([][]string, 0, len(statuses))
				for _, status := range statuses {
					rows = append(rows, []string{status, strconv.Itoa(stats[queue.Status(status)])})
				}
				out := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}
