package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"analytics-orchestrator/internal/apiserver/auth"
	"analytics-orchestrator/internal/shared/model"
)

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		tier    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for the HTTP API",
		Long:  "Signs an access token with JWT_SECRET. The tier claim bounds which workers the caller may reach.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			parsed, err := model.ParseTier(tier)
			if err != nil {
				return err
			}
			authCfg := auth.DefaultConfig()
			authCfg.JWTSecret = cfg.Auth.JWTSecret
			if ttl > 0 {
				authCfg.AccessTokenTTL = ttl
			}
			token, err := auth.GenerateAccessToken(authCfg, subject, parsed)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "caller id (becomes the default user_id)")
	cmd.Flags().StringVar(&tier, "tier", "read-only", "permission tier: read-only | read-execute | read-execute-write | administrative")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default 24h)")
	cmd.MarkFlagRequired("subject")
	return cmd
}
