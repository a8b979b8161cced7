package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crosspost/internal/config"
	"crosspost/internal/queue"
	"crosspost/internal/submit"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		userID      int64
		platforms   []string
		title       string
		description string
		tags        []string
		privacy     string
		schedule    string
	)

	cmd := &cobra.Command{
		Use:   "submit <source-url>",
		Short: "Queue a media file for publishing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var scheduledFor time.Time
			if schedule != "" {
				parsed, err := time.Parse(time.RFC3339, schedule)
				if err != nil {
					return fmt.Errorf("parse --schedule: %w", err)
				}
				scheduledFor = parsed
			}

			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				svc := submit.NewService(cfg, store, nil, nil)
				job, err := svc.Submit(cmd.Context(), submit.Request{
					UserID:         userID,
					Platforms:      platforms,
					SourceMediaRef: args[0],
					Metadata: queue.Metadata{
						Title:       title,
						Description: description,
						Tags:        tags,
						Privacy:     privacy,
					},
					ScheduledFor: scheduledFor,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s for %v\n", job.ID, job.Platforms)
				if !job.ScheduledFor.IsZero() && job.ScheduledFor.After(time.Now()) {
					fmt.Fprintf(cmd.OutOrStdout(), "Scheduled to start at %s\n", job.ScheduledFor.Format(time.RFC3339))
				}
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "Owning user id")
	cmd.Flags().StringSliceVar(&platforms, "platform", nil, "Target platform (repeatable)")
	cmd.Flags().StringVar(&title, "title", "", "Post title")
	cmd.Flags().StringVar(&description, "description", "", "Post description")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Post tag (repeatable)")
	cmd.Flags().StringVar(&privacy, "privacy", "private", "Post privacy: private, unlisted, or public")
	cmd.Flags().StringVar(&schedule, "schedule", "", "Earliest publish time (RFC3339)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("platform")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}
