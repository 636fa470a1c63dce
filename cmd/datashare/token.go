package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"datashare/internal/server/auth"
	"datashare/internal/server/config"
	"datashare/internal/server/database"
	"datashare/internal/server/service"
)

func newTokenCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue bearer tokens for provisioned users",
	}
	cmd.AddCommand(newTokenIssueCmd(cfg, jsonOutput))
	return cmd
}

func newTokenIssueCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "issue <email>",
		Short: "Sign a token for one user with the shared JWT secret",
		Args:  requireExactlyArgs(1, "email is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is required to issue tokens")
			}
			email, err := normalizeEmail(args[0])
			if err != nil {
				return err
			}

			b, err := openBackend(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer b.close()

			if _, err := b.repo.GetUserByEmail(cmd.Context(), email); err != nil {
				if errors.Is(err, database.ErrNotFound) {
					return fmt.Errorf("%w: %s", service.ErrUserNotFound, email)
				}
				return err
			}

			token, expiresAt, err := auth.NewIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTTTL).Issue(email)
			if err != nil {
				return err
			}

			if *jsonOutput {
				return writeJSON(map[string]any{
					"token":      token,
					"expires_at": formatTime(expiresAt),
				})
			}
			return writePlain("%s\n", token)
		},
	}
}
