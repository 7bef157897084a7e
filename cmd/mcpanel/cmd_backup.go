package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/TheGojiOG/mcpanel/internal/backup"
	"github.com/TheGojiOG/mcpanel/internal/crypto"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, restore and delete world backups",
	}
	cmd.AddCommand(
		newBackupCreateCmd(),
		newBackupListCmd(),
		newBackupRestoreCmd(),
		newBackupDeleteCmd(),
	)
	return cmd
}

func newBackupCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Archive a server and upload it to the backup destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()
			mgr, err := a.backups()
			if err != nil {
				return err
			}

			record, err := mgr.Create(cmd.Context(), args[0], actor())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup %s created (%s, %d files)\n",
				record.ID, formatBytes(uint64(record.SizeBytes)), record.FileCount)
			return nil
		},
	}
}

func newBackupListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list <name>",
		Aliases: []string{"ls"},
		Short:   "List the backups of a server, newest first",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()
			mgr, err := a.backups()
			if err != nil {
				return err
			}

			records, err := mgr.ListBackups(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			if len(records) == 0 {
				fmt.Fprintf(out, "No backups for %s\n", args[0])
				return nil
			}
			printBackups(cmd, records)

			stats, err := mgr.Retention().GetRetentionStats(args[0], a.cfg.Backup.Retention)
			if err != nil {
				return err
			}
			if stats.BackupsToDelete > 0 {
				fmt.Fprintf(out, "%d backup(s) exceed the retention limit of %d\n", stats.BackupsToDelete, stats.RetentionLimit)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printBackups(cmd *cobra.Command, records []*backup.BackupRecord) {
	id := lipgloss.NewStyle().Width(18)
	created := lipgloss.NewStyle().Width(22)
	size := lipgloss.NewStyle().Width(12)
	status := lipgloss.NewStyle().Width(11)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headerStyle.Render(
		id.Render("ID")+created.Render("CREATED")+size.Render("SIZE")+status.Render("STATUS")+"DESTINATION"))
	for _, r := range records {
		st := status.Render(r.Status)
		if r.Status == backup.StatusFailed {
			st = errorStyle.Inherit(status).Render(r.Status)
		}
		fmt.Fprintln(out,
			id.Render(r.ID)+
				created.Render(r.CreatedAt.Local().Format(time.DateTime))+
				size.Render(formatBytes(uint64(r.SizeBytes)))+
				st+
				r.DestinationType)
	}
}

func newBackupRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Replace a stopped server's files with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()
			mgr, err := a.backups()
			if err != nil {
				return err
			}

			record, err := mgr.Restore(cmd.Context(), args[0], actor())
			if err != nil {
				if errors.Is(err, backup.ErrServerRunning) && record != nil {
					return fmt.Errorf("%w; run mcpanel stop %s first", err, record.ServerName)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s from %s\n", record.ServerName, record.ID)
			return nil
		},
	}
}

func newBackupDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a backup from its destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()
			mgr, err := a.backups()
			if err != nil {
				return err
			}

			if err := mgr.DeleteBackup(cmd.Context(), args[0], actor()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newEncryptSecretCmd() *cobra.Command {
	var generate bool
	cmd := &cobra.Command{
		Use:   "encrypt-secret",
		Short: "Encrypt a secret read from stdin for use in the config file",
		Long: "Reads a secret from stdin and prints it in the enc: form using " +
			"security.encryption_key (or MCPANEL_ENCRYPTION_KEY). With --generate-key, " +
			"prints a new random key instead.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if generate {
				key, err := crypto.GenerateKey()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			}

			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			em, err := crypto.NewEncryptionManager(cfg.Security.EncryptionKey)
			if err != nil {
				return err
			}

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read secret: %w", err)
			}
			secret := strings.TrimRight(line, "\r\n")
			if secret == "" {
				return errors.New("secret must not be empty")
			}
			enc, err := em.EncryptSecret(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), enc)
			return nil
		},
	}
	cmd.Flags().BoolVar(&generate, "generate-key", false, "Print a new random encryption key")
	return cmd
}
