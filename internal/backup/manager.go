package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TheGojiOG/mcpanel/internal/config"
	"github.com/TheGojiOG/mcpanel/internal/crypto"
	"github.com/TheGojiOG/mcpanel/internal/logging"
	"github.com/TheGojiOG/mcpanel/internal/server"
)

// Backup states
const (
	StatusCreating  = "creating"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusDeleted   = "deleted"
)

const resumeTimeout = 10 * time.Second

var (
	ErrBackupNotFound      = errors.New("backup not found")
	ErrBackupNotRestorable = errors.New("backup is not in completed state")
	ErrServerRunning       = errors.New("server must be stopped before restoring a backup")
)

// Controller is the part of control.Controller the manager needs. Backups and
// restores run inside Exclusive so lifecycle operations cannot interleave.
type Controller interface {
	Exclusive(name string, fn func(h server.Handle, st server.Status) error) error
	Command(ctx context.Context, name, actor, command string) (string, error)
}

// BackupRecord represents a backup record in the database
type BackupRecord struct {
	ID              string         `json:"id"`
	ServerName      string         `json:"server"`
	Filename        string         `json:"filename"`
	SizeBytes       int64          `json:"size_bytes"`
	FileCount       int            `json:"file_count"`
	CreatedAt       time.Time      `json:"created_at"`
	DestinationType string         `json:"destination_type"`
	DestinationPath string         `json:"destination_path"`
	Status          string         `json:"status"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedBy       string         `json:"created_by,omitempty"`
}

// Options wire a Manager. Activity and Secrets are optional.
type Options struct {
	DB         *sql.DB
	Controller Controller
	Config     config.BackupConfig
	Secrets    *crypto.Resolver
	Activity   *logging.ActivityLogger
}

// Manager orchestrates backup operations
type Manager struct {
	db        *sql.DB
	ctl       Controller
	cfg       config.BackupConfig
	activity  *logging.ActivityLogger
	retention *RetentionManager
	now       func() time.Time

	newDestination func(ctx context.Context) (Destination, error)
}

// NewManager creates a new backup manager
func NewManager(opts Options) *Manager {
	m := &Manager{
		db:       opts.DB,
		ctl:      opts.Controller,
		cfg:      opts.Config,
		activity: opts.Activity,
		now:      time.Now,
	}
	secrets := opts.Secrets
	m.newDestination = func(ctx context.Context) (Destination, error) {
		return NewDestination(ctx, m.cfg.Destination, secrets)
	}
	m.retention = NewRetentionManager(m)
	return m
}

// Retention returns the retention manager bound to this manager.
func (m *Manager) Retention() *RetentionManager {
	return m.retention
}

// Create archives a server directory and uploads it to the configured
// destination. A running server has autosave paused while the archive is
// written.
func (m *Manager) Create(ctx context.Context, name, actor string) (*BackupRecord, error) {
	id := uuid.NewString()[:8]
	record := &BackupRecord{
		ID:         "backup-" + id,
		ServerName: name,
		Status:     StatusCreating,
		CreatedAt:  m.now().UTC(),
		CreatedBy:  actor,
	}
	log.Printf("[BackupMgr] Creating backup %s for server %s", record.ID, name)

	saved := false
	err := m.ctl.Exclusive(name, func(h server.Handle, st server.Status) error {
		dest, err := m.newDestination(ctx)
		if err != nil {
			return fmt.Errorf("failed to create destination: %w", err)
		}
		defer dest.Close()

		record.DestinationType = dest.GetType()
		record.DestinationPath = dest.Location()
		if err := m.saveBackupRecord(record); err != nil {
			return fmt.Errorf("failed to save backup record: %w", err)
		}
		saved = true

		compression := CompressionConfig{Type: m.cfg.Compression, Level: m.cfg.Level}
		filename := archiveFilename(name, id, record.CreatedAt, compression)
		staging := filepath.Join(m.cfg.StagingDir, filename)
		exclude := append([]string{filepath.Base(h.PIDFile())}, m.cfg.Exclude...)

		running := st.State == server.StateRunning
		flushed := false
		if running {
			flushed = m.pauseSaves(ctx, name, actor)
		}
		info, err := CreateArchive(ctx, h.Dir, staging, exclude, compression)
		if running {
			m.resumeSaves(ctx, name, actor)
		}
		if err != nil {
			return fmt.Errorf("failed to create archive: %w", err)
		}
		defer os.Remove(staging)

		key := path.Join(name, filename)
		if err := m.upload(ctx, dest, staging, key, info.SizeBytes); err != nil {
			return err
		}

		record.Filename = key
		record.SizeBytes = info.SizeBytes
		record.FileCount = info.FileCount
		record.Metadata = map[string]any{
			"compression": info.Compression.Type,
			"exclude":     exclude,
			"running":     running,
			"flushed":     flushed,
		}
		return nil
	})

	if err != nil && !saved {
		return nil, err
	}
	if err != nil {
		record.Status = StatusFailed
		record.ErrorMessage = err.Error()
		if saveErr := m.saveBackupRecord(record); saveErr != nil {
			log.Printf("[BackupMgr] Warning: Failed to update backup status: %v", saveErr)
		}
		m.logActivity(logging.ActivityBackupCreate, record, actor, err)
		return record, err
	}

	record.Status = StatusCompleted
	if err := m.saveBackupRecord(record); err != nil {
		log.Printf("[BackupMgr] Warning: Failed to update backup status: %v", err)
	}
	m.logActivity(logging.ActivityBackupCreate, record, actor, nil)
	log.Printf("[BackupMgr] Backup %s created successfully: %s (%d bytes)", record.ID, record.Filename, record.SizeBytes)

	if m.cfg.Retention > 0 {
		if _, err := m.retention.EnforceRetention(ctx, name, m.cfg.Retention, actor); err != nil {
			log.Printf("[BackupMgr] Retention for %s failed: %v", name, err)
		}
	}
	return record, nil
}

func (m *Manager) upload(ctx context.Context, dest Destination, staging, key string, size int64) error {
	f, err := os.Open(staging)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()
	if err := dest.Upload(ctx, key, f, size); err != nil {
		return fmt.Errorf("failed to upload to destination: %w", err)
	}
	return nil
}

// pauseSaves disables autosave and flushes the world so the archive sees a
// consistent region set. A server without RCON is archived as is.
func (m *Manager) pauseSaves(ctx context.Context, name, actor string) bool {
	if _, err := m.ctl.Command(ctx, name, actor, "save-off"); err != nil {
		log.Printf("[BackupMgr] Could not pause autosave on %s, archiving without flush: %v", name, err)
		return false
	}
	if _, err := m.ctl.Command(ctx, name, actor, "save-all flush"); err != nil {
		log.Printf("[BackupMgr] save-all flush on %s failed: %v", name, err)
		return false
	}
	return true
}

func (m *Manager) resumeSaves(ctx context.Context, name, actor string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resumeTimeout)
	defer cancel()
	if _, err := m.ctl.Command(ctx, name, actor, "save-on"); err != nil {
		log.Printf("[BackupMgr] Failed to re-enable autosave on %s: %v", name, err)
	}
}

// Restore replaces a stopped server's directory with the contents of a
// backup. Entries matched by the exclude list, such as logs, are carried
// over from the current directory.
func (m *Manager) Restore(ctx context.Context, id, actor string) (*BackupRecord, error) {
	record, err := m.GetBackup(id)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusCompleted {
		return record, fmt.Errorf("%w: %s", ErrBackupNotRestorable, record.Status)
	}
	log.Printf("[BackupMgr] Restoring backup %s to %s", id, record.ServerName)

	err = m.ctl.Exclusive(record.ServerName, func(h server.Handle, st server.Status) error {
		if st.State == server.StateRunning {
			return ErrServerRunning
		}
		if record.DestinationType != m.cfg.Destination.Type {
			return fmt.Errorf("backup is stored in a %s destination but %s is configured", record.DestinationType, m.cfg.Destination.Type)
		}
		dest, err := m.newDestination(ctx)
		if err != nil {
			return fmt.Errorf("failed to create destination: %w", err)
		}
		defer dest.Close()

		staging := filepath.Join(m.cfg.StagingDir, "restore_"+path.Base(record.Filename))
		if err := m.download(ctx, dest, record.Filename, staging); err != nil {
			return err
		}
		defer os.Remove(staging)

		parent := filepath.Dir(h.Dir)
		workDir := filepath.Join(parent, "."+h.Name+".restore-"+record.ID)
		os.RemoveAll(workDir)
		if _, err := ExtractArchive(ctx, staging, workDir); err != nil {
			os.RemoveAll(workDir)
			return fmt.Errorf("failed to extract archive: %w", err)
		}
		return swapDirs(h.Dir, workDir, filepath.Join(parent, "."+h.Name+".pre-restore-"+record.ID), m.cfg.Exclude)
	})
	m.logActivity(logging.ActivityBackupRestore, record, actor, err)
	if err != nil {
		return record, err
	}
	log.Printf("[BackupMgr] Backup %s restored successfully to %s", id, record.ServerName)
	return record, nil
}

func (m *Manager) download(ctx context.Context, dest Destination, key, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create restore file: %w", err)
	}
	err = dest.Download(ctx, key, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(target)
		return fmt.Errorf("failed to download backup: %w", err)
	}
	return nil
}

// swapDirs moves restored into place of live. On failure live is put back.
func swapDirs(live, restored, old string, keep []string) error {
	os.RemoveAll(old)
	if err := os.Rename(live, old); err != nil {
		os.RemoveAll(restored)
		return fmt.Errorf("failed to move current server directory aside: %w", err)
	}
	if err := os.Rename(restored, live); err != nil {
		if rbErr := os.Rename(old, live); rbErr != nil {
			log.Printf("[BackupMgr] Rollback failed, previous files remain in %s: %v", old, rbErr)
		}
		os.RemoveAll(restored)
		return fmt.Errorf("failed to move restored files into place: %w", err)
	}

	entries, err := os.ReadDir(old)
	if err == nil {
		for _, entry := range entries {
			if !isExcluded(entry.Name(), keep) {
				continue
			}
			target := filepath.Join(live, entry.Name())
			if _, err := os.Lstat(target); !errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err := os.Rename(filepath.Join(old, entry.Name()), target); err != nil {
				log.Printf("[BackupMgr] Failed to carry over %s: %v", entry.Name(), err)
			}
		}
	}
	if err := os.RemoveAll(old); err != nil {
		log.Printf("[BackupMgr] Failed to remove %s: %v", old, err)
	}
	return nil
}

// DeleteBackup removes a backup from its destination and marks the record
// deleted.
func (m *Manager) DeleteBackup(ctx context.Context, id, actor string) error {
	record, err := m.GetBackup(id)
	if err != nil {
		return err
	}
	if record.Status == StatusDeleted {
		return nil
	}
	log.Printf("[BackupMgr] Deleting backup %s", id)

	if record.Filename != "" {
		if record.DestinationType != m.cfg.Destination.Type {
			log.Printf("[BackupMgr] Warning: %s is stored in a %s destination which is no longer configured; only the record is removed", id, record.DestinationType)
		} else if err := m.deleteFile(ctx, record.Filename); err != nil {
			m.logActivity(logging.ActivityBackupDelete, record, actor, err)
			return err
		}
	}

	record.Status = StatusDeleted
	if err := m.saveBackupRecord(record); err != nil {
		return fmt.Errorf("failed to update backup record: %w", err)
	}
	m.logActivity(logging.ActivityBackupDelete, record, actor, nil)
	return nil
}

func (m *Manager) deleteFile(ctx context.Context, key string) error {
	dest, err := m.newDestination(ctx)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	defer dest.Close()
	if err := dest.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete from destination: %w", err)
	}
	return nil
}

const backupColumns = `id, server_name, filename, size_bytes, file_count, created_at,
	destination_type, destination_path, status, error_message, metadata, created_by`

// ListBackups returns all backups for a server, newest first
func (m *Manager) ListBackups(name string) ([]*BackupRecord, error) {
	rows, err := m.db.Query(`SELECT `+backupColumns+`
		FROM backups
		WHERE server_name = ? AND status != 'deleted'
		ORDER BY created_at DESC`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query backups: %w", err)
	}
	defer rows.Close()

	backups := make([]*BackupRecord, 0)
	for rows.Next() {
		record, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		backups = append(backups, record)
	}
	return backups, rows.Err()
}

// GetBackup retrieves a specific backup
func (m *Manager) GetBackup(id string) (*BackupRecord, error) {
	row := m.db.QueryRow(`SELECT `+backupColumns+` FROM backups WHERE id = ?`, id)
	record, err := scanBackup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, id)
	}
	return record, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBackup(row scanner) (*BackupRecord, error) {
	record := &BackupRecord{}
	var metadataJSON, errorMsg, createdBy sql.NullString
	err := row.Scan(
		&record.ID,
		&record.ServerName,
		&record.Filename,
		&record.SizeBytes,
		&record.FileCount,
		&record.CreatedAt,
		&record.DestinationType,
		&record.DestinationPath,
		&record.Status,
		&errorMsg,
		&metadataJSON,
		&createdBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan backup record: %w", err)
	}
	record.ErrorMessage = errorMsg.String
	record.CreatedBy = createdBy.String
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &record.Metadata); err != nil {
			log.Printf("[BackupMgr] Warning: Failed to parse metadata: %v", err)
		}
	}
	return record, nil
}

// saveBackupRecord saves or updates a backup record
func (m *Manager) saveBackupRecord(record *BackupRecord) error {
	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = m.db.Exec(`
		INSERT OR REPLACE INTO backups (`+backupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.ServerName,
		record.Filename,
		record.SizeBytes,
		record.FileCount,
		record.CreatedAt,
		record.DestinationType,
		record.DestinationPath,
		record.Status,
		record.ErrorMessage,
		string(metadataJSON),
		record.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save backup record: %w", err)
	}
	return nil
}

func (m *Manager) logActivity(activityType string, record *BackupRecord, actor string, opErr error) {
	if m.activity == nil {
		return
	}
	verb := strings.TrimPrefix(activityType, "backup.")
	activity := &logging.Activity{
		ServerName:   record.ServerName,
		Actor:        actor,
		ActivityType: activityType,
		Description:  fmt.Sprintf("backup %s %s", verb, record.ID),
		Metadata: map[string]any{
			"id":          record.ID,
			"filename":    record.Filename,
			"size_bytes":  record.SizeBytes,
			"destination": record.DestinationType,
		},
		Success: opErr == nil,
	}
	if opErr != nil {
		activity.ErrorMessage = opErr.Error()
	}
	if err := m.activity.LogActivity(activity); err != nil {
		log.Printf("[BackupMgr] Failed to log %s: %v", activityType, err)
	}
}
