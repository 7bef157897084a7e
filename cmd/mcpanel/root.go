package main

import (
	"fmt"
	"log"
	"os"
	"os/user"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/TheGojiOG/mcpanel/internal/backup"
	"github.com/TheGojiOG/mcpanel/internal/config"
	"github.com/TheGojiOG/mcpanel/internal/control"
	"github.com/TheGojiOG/mcpanel/internal/crypto"
	"github.com/TheGojiOG/mcpanel/internal/database"
	"github.com/TheGojiOG/mcpanel/internal/logging"
	"github.com/TheGojiOG/mcpanel/internal/server"
)

var (
	verbose bool
	home    string
)

// NewRootCmd wires the cobra tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mcpanel",
		Short:         "Manage local Minecraft servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
	root.PersistentFlags().StringVar(&home, "home", "", "mcpanel home directory (default $MCPANEL_HOME or ~/.mc-panel)")

	root.AddCommand(
		newListCmd(),
		newCreateCmd(),
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
		newStatsCmd(),
		newLogsCmd(),
		newRCONCmd(),
		newServeCmd(),
		newTokenCmd(),
		newHashPasswordCmd(),
		newMigrateCmd(),
		newBackupCmd(),
		newEncryptSecretCmd(),
	)
	return root
}

// app holds the components shared by commands that touch servers.
type app struct {
	cfg        *config.Config
	db         *database.DB
	activity   *logging.ActivityLogger
	supervisor *server.Supervisor
	ctl        *control.Controller
}

// loadConfig reads configuration and sets up logging. Interactive commands
// only log warnings unless --verbose is set; long-running ones keep the
// configured level.
func loadConfig(daemon bool) (*config.Config, error) {
	if home != "" {
		os.Setenv("MCPANEL_HOME", home)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	switch {
	case verbose:
		cfg.Logging.Level = "debug"
	case !daemon:
		cfg.Logging.Level = "warn"
	}
	if _, err := logging.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return cfg, nil
}

func openApp(daemon bool) (*app, error) {
	cfg, err := loadConfig(daemon)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	activity, err := logging.NewActivityLogger(db.DB, filepath.Join(cfg.Home, "logs", "activity"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize activity logger: %w", err)
	}

	supervisor := server.NewSupervisor(server.Options{
		JavaBin:        cfg.Runtime.JavaBin,
		DefaultXms:     cfg.Runtime.DefaultXms,
		DefaultXmx:     cfg.Runtime.DefaultXmx,
		ConfirmTimeout: cfg.Supervisor.ConfirmTimeout,
		PollInterval:   cfg.Supervisor.PollInterval,
		StopGrace:      cfg.Supervisor.StopGrace,
		RestartSettle:  cfg.Supervisor.RestartSettle,
	})

	ctl := control.New(control.Options{
		Layout:    server.NewLayout(cfg.Home),
		Lifecycle: supervisor,
		RCON:      cfg.RCON,
		Tail:      cfg.Tail,
		Status:    database.NewStatusStore(db.DB),
		Activity:  activity,
	})

	return &app{cfg: cfg, db: db, activity: activity, supervisor: supervisor, ctl: ctl}, nil
}

// backups builds the backup manager. Encrypted destination secrets are
// resolved with security.encryption_key.
func (a *app) backups() (*backup.Manager, error) {
	secrets, err := crypto.NewResolver(a.cfg.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	return backup.NewManager(backup.Options{
		DB:         a.db.DB,
		Controller: a.ctl,
		Config:     a.cfg.Backup,
		Secrets:    secrets,
		Activity:   a.activity,
	}), nil
}

func (a *app) Close() {
	if err := a.activity.Close(); err != nil {
		log.Printf("[CLI] Failed to close activity log: %v", err)
	}
	if err := a.db.Close(); err != nil {
		log.Printf("[CLI] Failed to close database: %v", err)
	}
	logging.Close()
}

// actor names the local user in activity records.
func actor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}
