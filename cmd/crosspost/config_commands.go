package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"crosspost/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the crosspost configuration file",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(path)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				target = defaultPath
			}
			if err := config.WriteSample(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample config to %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Destination path (defaults to the standard config location)")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if ctx.configFlag != nil {
				path = strings.TrimSpace(*ctx.configFlag)
			}
			cfg, resolvedPath, exists, err := config.LoadUnvalidated(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(out, "Warning: %v\n\n", err)
			}
			if exists {
				fmt.Fprintf(out, "Config file: %s\n\n", resolvedPath)
				contents, err := os.ReadFile(resolvedPath)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(contents))
				return nil
			}

			fmt.Fprintln(out, "No config file found, using defaults")
			fmt.Fprintf(out, "Work dir:  %s\n", cfg.Paths.WorkDir)
			fmt.Fprintf(out, "Log dir:   %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "API bind:  %s\n", cfg.Paths.APIBind)
			fmt.Fprintf(out, "Platforms: %v\n", cfg.EnabledPlatforms())
			return nil
		},
	}
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runTestNotification(cmd, cfg)
		},
	}
}
