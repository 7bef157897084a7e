package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheGojiOG/mcpanel/internal/auth"
	"github.com/TheGojiOG/mcpanel/internal/database"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			jwtManager, err := auth.NewJWTManager(cfg.API.Secret, cfg.API.TokenTTL)
			if err != nil {
				return fmt.Errorf("%w; set api.secret or MCPANEL_API_SECRET", err)
			}
			token, expires, err := jwtManager.GenerateToken(subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "Token subject recorded as the actor")
	cmd.Flags().StringSliceVar(&roles, "role", []string{auth.RoleAdmin}, "Role to grant (admin, operator, viewer); repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default api.token_ttl)")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin for api.users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return errors.New("password must not be empty")
			}
			hash, err := auth.HashPassword(password, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (default 10)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var rollback bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			db, err := database.NewDB(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()

			if rollback {
				err = db.Rollback()
			} else {
				err = db.Migrate()
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			applied, err := db.AppliedMigrations()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d migration(s) applied\n", len(applied))
			for _, v := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", v)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&rollback, "rollback", false, "Revert the most recent migration")
	return cmd
}
