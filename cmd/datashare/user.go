package main

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/spf13/cobra"

	"datashare/internal/server/config"
	"datashare/internal/server/database"
)

func newUserCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage the users allowed to upload files",
	}
	cmd.AddCommand(newUserAddCmd(cfg, jsonOutput))
	cmd.AddCommand(newUserListCmd(cfg, jsonOutput))
	return cmd
}

func newUserAddCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "add <email>",
		Short: "Provision one user",
		Args:  requireExactlyArgs(1, "email is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := normalizeEmail(args[0])
			if err != nil {
				return err
			}

			b, err := openBackend(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer b.close()

			user, err := b.repo.CreateUser(cmd.Context(), email)
			if err != nil {
				if errors.Is(err, database.ErrConflict) {
					return fmt.Errorf("user %s already exists", email)
				}
				return err
			}

			if *jsonOutput {
				return writeJSON(userJSON(user))
			}
			return writePlain("created user %s (%d)\n", user.Email, user.ID)
		},
	}
}

func newUserListCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List provisioned users",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer b.close()

			users, err := b.repo.ListUsers(cmd.Context())
			if err != nil {
				return err
			}

			if *jsonOutput {
				out := make([]map[string]any, 0, len(users))
				for _, u := range users {
					out = append(out, userJSON(u))
				}
				return writeJSON(out)
			}
			for _, u := range users {
				if err := writePlain("%d\t%s\t%s\n", u.ID, u.Email, formatTime(u.CreatedAt)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// normalizeEmail lowercases the address the same way lookups do.
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("invalid email %q", raw)
	}
	return email, nil
}

func userJSON(u *database.User) map[string]any {
	return map[string]any{
		"id":         u.ID,
		"email":      u.Email,
		"created_at": formatTime(u.CreatedAt),
	}
}
