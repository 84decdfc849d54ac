package main

import (
	"errors"
	"fmt"
	"time"

	"mixerline/internal/auth"
	"mixerline/internal/config"

	"github.com/spf13/cobra"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not configured")
			}
			p := auth.Principal{Subject: subject, Role: auth.Role(role)}
			if !p.Role.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			tok, err := auth.IssueToken(cfg.Auth.JWTSecret, p, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "principal name embedded in the token")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleOperator), "viewer, operator, supervisor or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	cmd.MarkFlagRequired("subject")
	return cmd
}
