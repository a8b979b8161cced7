package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crosspost/internal/config"
	"crosspost/internal/credentials"
	"crosspost/internal/queue"
)

func newCredentialsCommand(ctx *commandContext) *cobra.Command {
	credsCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage stored platform credentials",
	}

	credsCmd.AddCommand(newCredentialsStoreCommand(ctx))
	credsCmd.AddCommand(newCredentialsListCommand(ctx))

	return credsCmd
}

func newCredentialsStoreCommand(ctx *commandContext) *cobra.Command {
	var (
		userID       int64
		provider     string
		accessToken  string
		refreshToken string
		expiry       string
	)

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Store or replace a platform credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			var expiresAt time.Time
			if expiry != "" {
				parsed, err := time.Parse(time.RFC3339, expiry)
				if err != nil {
					return fmt.Errorf("parse --expiry: %w", err)
				}
				expiresAt = parsed
			}

			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				creds, err := credentials.NewStore(store.DB(), credentials.RefreshersFromConfig(cfg))
				if err != nil {
					return err
				}
				if err := creds.Store(cmd.Context(), &credentials.Credential{
					UserID:       userID,
					Provider:     provider,
					AccessToken:  accessToken,
					RefreshToken: refreshToken,
					Expiry:       expiresAt,
				}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %s credential for user %d\n", provider, userID)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "Owning user id")
	cmd.Flags().StringVar(&provider, "provider", "", "Platform provider: youtube, instagram, or tiktok")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "OAuth access token")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth refresh token")
	cmd.Flags().StringVar(&expiry, "expiry", "", "Access token expiry (RFC3339)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("access-token")

	return cmd
}

func newCredentialsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				creds, err := credentials.NewStore(store.DB(), nil)
				if err != nil {
					return err
				}
				stored, err := creds.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(stored) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No credentials stored")
					return nil
				}

				now := time.Now()
				rows := make([][]string, 0, len(stored))
				for _, cred := range stored {
					expiry := "never"
					if !cred.Expiry.IsZero() {
						expiry = cred.Expiry.Local().Format(time.RFC3339)
					}
					state := "valid"
					if cred.Expired(now) {
						state = "expired"
					}
					rows = append(rows, []string{
						fmt.Sprintf("%d", cred.UserID),
						cred.Provider,
						state,
						expiry,
					})
				}
				out := renderTable(
					[]string{"User", "Provider", "State", "Expiry"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}
