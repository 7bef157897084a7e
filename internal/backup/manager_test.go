package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TheGojiOG/mcpanel/internal/config"
	"github.com/TheGojiOG/mcpanel/internal/database"
	"github.com/TheGojiOG/mcpanel/internal/logging"
	"github.com/TheGojiOG/mcpanel/internal/server"
)

type fakeController struct {
	layout server.Layout
	state  server.State

	mu       sync.Mutex
	commands []string
	failRCON bool
}

func (f *fakeController) Exclusive(name string, fn func(h server.Handle, st server.Status) error) error {
	h, err := f.layout.Lookup(name)
	if err != nil {
		return err
	}
	return fn(h, server.Status{Name: name, State: f.state})
}

func (f *fakeController) Command(ctx context.Context, name, actor, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRCON {
		return "", errors.New("rcon is disabled in server.properties")
	}
	f.commands = append(f.commands, command)
	return "", nil
}

type managerFixture struct {
	mgr      *Manager
	ctl      *fakeController
	handle   server.Handle
	destDir  string
	activity *logging.ActivityLogger
}

func newManagerFixture(t *testing.T, retention int) *managerFixture {
	t.Helper()
	root := t.TempDir()
	db, err := database.Open(filepath.Join(root, "data", "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	activity, err := logging.NewActivityLogger(db.DB, filepath.Join(root, "logs"))
	if err != nil {
		t.Fatalf("failed to create activity logger: %v", err)
	}
	t.Cleanup(func() { activity.Close() })

	layout := server.NewLayout(root)
	h, err := layout.Handle("alpha")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	writeTree(t, h.Dir, map[string]string{
		"server.properties": "level-name=world\n",
		"world/level.dat":   "original",
		"logs/latest.log":   "old log",
		"server.pid":        "4242",
	})

	cfg := config.Default().Backup
	cfg.StagingDir = filepath.Join(root, "staging")
	cfg.Destination.Path = filepath.Join(root, "backups")
	cfg.Retention = retention

	ctl := &fakeController{layout: layout, state: server.StateStopped}
	mgr := NewManager(Options{DB: db.DB, Controller: ctl, Config: cfg, Activity: activity})

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return &managerFixture{mgr: mgr, ctl: ctl, handle: h, destDir: cfg.Destination.Path, activity: activity}
}

func TestCreateBackup(t *testing.T) {
	f := newManagerFixture(t, 0)

	record, err := f.mgr.Create(context.Background(), "alpha", "alice")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if record.Status != StatusCompleted || record.FileCount != 2 || record.DestinationType != "local" {
		t.Fatalf("unexpected record %+v", record)
	}
	if _, err := os.Stat(filepath.Join(f.destDir, filepath.FromSlash(record.Filename))); err != nil {
		t.Fatalf("expected archive at destination: %v", err)
	}
	if len(f.ctl.commands) != 0 {
		t.Fatalf("stopped server must not receive commands, got %v", f.ctl.commands)
	}

	stored, err := f.mgr.GetBackup(record.ID)
	if err != nil {
		t.Fatalf("GetBackup failed: %v", err)
	}
	if stored.SizeBytes != record.SizeBytes || stored.CreatedBy != "alice" || stored.Metadata["compression"] != "gzip" {
		t.Fatalf("unexpected stored record %+v", stored)
	}

	activities, err := f.activity.GetActivities("alpha", logging.ActivityBackupCreate, time.Time{}, 10)
	if err != nil {
		t.Fatalf("GetActivities: %v", err)
	}
	if len(activities) != 1 || !activities[0].Success {
		t.Fatalf("unexpected activities %+v", activities)
	}

	staged, _ := os.ReadDir(f.mgr.cfg.StagingDir)
	if len(staged) != 0 {
		t.Fatalf("expected staging directory to be empty, got %d entries", len(staged))
	}
}

func TestCreateBackupPausesSavesWhileRunning(t *testing.T) {
	f := newManagerFixture(t, 0)
	f.ctl.state = server.StateRunning

	record, err := f.mgr.Create(context.Background(), "alpha", "schedule")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	want := []string{"save-off", "save-all flush", "save-on"}
	if len(f.ctl.commands) != len(want) {
		t.Fatalf("expected commands %v, got %v", want, f.ctl.commands)
	}
	for i := range want {
		if f.ctl.commands[i] != want[i] {
			t.Fatalf("expected commands %v, got %v", want, f.ctl.commands)
		}
	}
	if record.Metadata["flushed"] != true {
		t.Fatalf("expected flushed metadata, got %+v", record.Metadata)
	}
}

func TestCreateBackupWithoutRCON(t *testing.T) {
	f := newManagerFixture(t, 0)
	f.ctl.state = server.StateRunning
	f.ctl.failRCON = true

	record, err := f.mgr.Create(context.Background(), "alpha", "cli")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if record.Metadata["flushed"] != false {
		t.Fatalf("expected unflushed backup, got %+v", record.Metadata)
	}
}

func TestCreateBackupUnknownServer(t *testing.T) {
	f := newManagerFixture(t, 0)
	if _, err := f.mgr.Create(context.Background(), "missing", "cli"); !errors.Is(err, server.ErrServerNotFound) {
		t.Fatalf("expected ErrServerNotFound, got %v", err)
	}
	backups, err := f.mgr.ListBackups("missing")
	if err != nil || len(backups) != 0 {
		t.Fatalf("expected no records, got %v, %v", backups, err)
	}
}

func TestRestoreBackup(t *testing.T) {
	f := newManagerFixture(t, 0)
	record, err := f.mgr.Create(context.Background(), "alpha", "cli")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	writeTree(t, f.handle.Dir, map[string]string{
		"world/level.dat": "changed",
		"world/new.dat":   "new",
		"logs/latest.log": "new log",
	})

	f.ctl.state = server.StateRunning
	if _, err := f.mgr.Restore(context.Background(), record.ID, "cli"); !errors.Is(err, ErrServerRunning) {
		t.Fatalf("expected ErrServerRunning, got %v", err)
	}

	f.ctl.state = server.StateStopped
	if _, err := f.mgr.Restore(context.Background(), record.ID, "cli"); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(f.handle.Dir, "world", "level.dat"))
	if err != nil || string(data) != "original" {
		t.Fatalf("expected restored level.dat, got %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(f.handle.Dir, "world", "new.dat")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected new.dat to be gone, got %v", err)
	}
	logData, err := os.ReadFile(filepath.Join(f.handle.Dir, "logs", "latest.log"))
	if err != nil || string(logData) != "new log" {
		t.Fatalf("expected excluded logs to be carried over, got %q, %v", logData, err)
	}

	entries, err := os.ReadDir(filepath.Dir(f.handle.Dir))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the server directory after restore, got %d entries", len(entries))
	}
}

func TestDeleteBackup(t *testing.T) {
	f := newManagerFixture(t, 0)
	record, err := f.mgr.Create(context.Background(), "alpha", "cli")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := f.mgr.DeleteBackup(context.Background(), record.ID, "cli"); err != nil {
		t.Fatalf("DeleteBackup failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.destDir, filepath.FromSlash(record.Filename))); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected archive to be deleted, got %v", err)
	}
	backups, err := f.mgr.ListBackups("alpha")
	if err != nil || len(backups) != 0 {
		t.Fatalf("expected no listed backups, got %v, %v", backups, err)
	}
	if _, err := f.mgr.Restore(context.Background(), record.ID, "cli"); !errors.Is(err, ErrBackupNotRestorable) {
		t.Fatalf("expected ErrBackupNotRestorable, got %v", err)
	}
	if err := f.mgr.DeleteBackup(context.Background(), "backup-missing", "cli"); !errors.Is(err, ErrBackupNotFound) {
		t.Fatalf("expected ErrBackupNotFound, got %v", err)
	}
}

func TestRetentionKeepsNewest(t *testing.T) {
	f := newManagerFixture(t, 2)

	var ids []string
	for i := 0; i < 3; i++ {
		record, err := f.mgr.Create(context.Background(), "alpha", "cli")
		if err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
		ids = append(ids, record.ID)
	}

	backups, err := f.mgr.ListBackups("alpha")
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if len(backups) != 2 || backups[0].ID != ids[2] || backups[1].ID != ids[1] {
		t.Fatalf("expected the two newest backups, got %+v", backups)
	}
	oldest, err := f.mgr.GetBackup(ids[0])
	if err != nil || oldest.Status != StatusDeleted {
		t.Fatalf("expected oldest backup deleted, got %+v, %v", oldest, err)
	}

	stats, err := f.mgr.Retention().GetRetentionStats("alpha", 1)
	if err != nil {
		t.Fatalf("GetRetentionStats failed: %v", err)
	}
	if stats.TotalBackups != 2 || stats.BackupsToDelete != 1 || stats.WillDeleteSize != backups[1].SizeBytes {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
