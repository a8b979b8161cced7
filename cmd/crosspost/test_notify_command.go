package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"crosspost/internal/config"
	"crosspost/internal/notifications"
)

func runTestNotification(cmd *cobra.Command, cfg *config.Config) error {
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "No ntfy topic configured, nothing to send")
		return nil
	}

	svc := notifications.NewService(cfg)
	if err := svc.TestNotification(cmd.Context()); err != nil {
		return fmt.Errorf("send test notification: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
	return nil
}
