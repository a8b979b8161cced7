package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"crosspost/internal/config"
	"crosspost/internal/daemon"
	"crosspost/internal/deps"
	"crosspost/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			if status, err := fetchDaemonStatus(cfg); err == nil {
				printDaemonStatus(cmd, status)
				printDependencies(cmd, cfg)
				return nil
			}

			// Daemon unreachable, fall back to reading the queue directly.
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				health, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Daemon:  not running")
				fmt.Fprintf(out, "Queue:   %d total (%d queued, %d processing, %d done, %d partial, %d failed)\n",
					health.Total, health.Queued, health.Processing, health.Done, health.Partial, health.Failed)
				printDependencies(cmd, cfg)
				return nil
			})
		},
	}
}

func fetchDaemonStatus(cfg *config.Config) (*daemon.Status, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, fmt.Errorf("api bind not configured")
	}

	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest(http.MethodGet, "http://"+bind+"/api/status", nil)
	if err != nil {
		return nil, err
	}
	if token := strings.TrimSpace(cfg.Paths.APIToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daemon returned %d", resp.StatusCode)
	}

	var status daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

func printDaemonStatus(cmd *cobra.Command, status *daemon.Status) {
	out := cmd.OutOrStdout()
	running := "running"
	if !status.Running {
		running = "stopped"
	}
	fmt.Fprintf(out, "Daemon:  %s\n", running)
	fmt.Fprintf(out, "API:     %s\n", status.APIAddress)
	fmt.Fprintf(out, "Workers: %d\n", status.Workflow.Workers)
	fmt.Fprintf(out, "Queue:   %d total (%d queued, %d processing, %d done, %d partial, %d failed)\n",
		status.Workflow.Queue.Total,
		status.Workflow.Queue.Queued,
		status.Workflow.Queue.Processing,
		status.Workflow.Queue.Done,
		status.Workflow.Queue.Partial,
		status.Workflow.Queue.Failed)
	if status.Workflow.LastErr != "" {
		fmt.Fprintf(out, "Last error: %s\n", status.Workflow.LastErr)
	}
}

func printDependencies(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	for _, status := range deps.Check([]deps.Requirement{
		{Name: "FFmpeg", Command: cfg.FFmpegBinary(), Description: "transcodes source media"},
	}) {
		if status.Available {
			fmt.Fprintf(out, "%s:  %s\n", status.Name, status.Command)
			continue
		}
		fmt.Fprintf(out, "%s:  unavailable (%s)\n", status.Name, status.Detail)
	}
}
