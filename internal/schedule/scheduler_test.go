package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TheGojiOG/mcpanel/internal/backup"
	"github.com/TheGojiOG/mcpanel/internal/config"
	"github.com/TheGojiOG/mcpanel/internal/database"
	"github.com/TheGojiOG/mcpanel/internal/logging"
	"github.com/TheGojiOG/mcpanel/internal/server"
)

type call struct {
	action string
	name   string
	actor  string
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeRunner) record(action, name, actor string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{action, name, actor})
}

func (f *fakeRunner) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeRunner) Start(ctx context.Context, name, actor string) (server.StartResult, error) {
	f.record("start", name, actor)
	return server.StartResult{Outcome: server.OutcomeStarted, PID: 10}, f.err
}

func (f *fakeRunner) Stop(ctx context.Context, name, actor string, force bool) (server.StopResult, error) {
	f.record("stop", name, actor)
	return server.StopResult{Outcome: server.OutcomeStopped, PID: 10}, f.err
}

func (f *fakeRunner) Restart(ctx context.Context, name, actor string) (server.StartResult, error) {
	f.record("restart", name, actor)
	if f.err != nil {
		return server.StartResult{}, f.err
	}
	return server.StartResult{Outcome: server.OutcomeStarted, PID: 11}, nil
}

func setupStores(t *testing.T) (*database.StatusStore, *logging.ActivityLogger) {
	t.Helper()
	root := t.TempDir()
	db, err := database.Open(filepath.Join(root, "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	activity, err := logging.NewActivityLogger(db.DB, filepath.Join(root, "logs"))
	if err != nil {
		t.Fatalf("failed to create activity logger: %v", err)
	}
	t.Cleanup(func() { activity.Close() })
	return database.NewStatusStore(db.DB), activity
}

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 4 * * *", false},
		{"30 0 4 * * *", false},
		{"@daily", false},
		{"@every 6h", false},
		{"not a cron", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestAddRejectsInvalidSchedules(t *testing.T) {
	s := New(&fakeRunner{}, nil, nil)

	tests := []config.ScheduleConfig{
		{Server: "alpha", Cron: "@daily", Action: "reinstall"},
		{Server: "alpha", Cron: "@daily", Action: config.ActionBackup},
		{Server: "", Cron: "@daily", Action: config.ActionRestart},
		{Server: "../etc", Cron: "@daily", Action: config.ActionRestart},
		{Server: "alpha", Cron: "every day", Action: config.ActionRestart},
	}
	for _, sc := range tests {
		if _, err := s.Add(sc); err == nil {
			t.Errorf("expected Add(%+v) to fail", sc)
		}
	}
	if len(s.Entries()) != 0 {
		t.Fatalf("expected no entries, got %d", len(s.Entries()))
	}

	err := s.Load([]config.ScheduleConfig{
		{Server: "alpha", Cron: "@daily", Action: config.ActionRestart},
		{Server: "beta", Cron: "bad", Action: config.ActionStop},
	})
	if err == nil {
		t.Fatal("expected Load to fail on the second schedule")
	}
	if len(s.Entries()) != 1 {
		t.Fatalf("expected the valid schedule to stay registered, got %d", len(s.Entries()))
	}
}

func TestRunRecordsOutcome(t *testing.T) {
	status, activity := setupStores(t)
	runner := &fakeRunner{}
	s := New(runner, status, activity)

	sc := config.ScheduleConfig{Server: "alpha", Cron: "0 4 * * *", Action: config.ActionRestart}
	if err := s.Run(context.Background(), sc); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	calls := runner.Calls()
	if len(calls) != 1 || calls[0] != (call{"restart", "alpha", Actor}) {
		t.Fatalf("unexpected calls: %+v", calls)
	}

	runs, err := status.ScheduleRuns("alpha", 0)
	if err != nil {
		t.Fatalf("ScheduleRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0]
	if run.Action != config.ActionRestart || run.Cron != "0 4 * * *" {
		t.Errorf("unexpected run: %+v", run)
	}
	if run.FinishedAt == nil || run.Outcome != string(server.OutcomeStarted) || run.ErrorMessage != "" {
		t.Errorf("run not finished correctly: %+v", run)
	}

	activities, err := activity.GetActivities("alpha", logging.ActivityScheduleRun, time.Time{}, 10)
	if err != nil {
		t.Fatalf("GetActivities failed: %v", err)
	}
	if len(activities) != 1 || !activities[0].Success || activities[0].Actor != Actor {
		t.Fatalf("unexpected activities: %+v", activities)
	}
}

func TestRunRecordsFailure(t *testing.T) {
	status, activity := setupStores(t)
	runner := &fakeRunner{err: errors.New("spawn failed")}
	s := New(runner, status, activity)

	sc := config.ScheduleConfig{Server: "alpha", Cron: "@daily", Action: config.ActionRestart}
	if err := s.Run(context.Background(), sc); err == nil {
		t.Fatal("expected Run to return the runner error")
	}

	runs, err := status.ScheduleRuns("alpha", 0)
	if err != nil {
		t.Fatalf("ScheduleRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Outcome != "failed" || runs[0].ErrorMessage != "spawn failed" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	activities, err := activity.GetActivities("alpha", logging.ActivityScheduleRun, time.Time{}, 10)
	if err != nil {
		t.Fatalf("GetActivities failed: %v", err)
	}
	if len(activities) != 1 || activities[0].Success || activities[0].ErrorMessage != "spawn failed" {
		t.Fatalf("unexpected activities: %+v", activities)
	}
}

type fakeBackuper struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (f *fakeBackuper) Create(ctx context.Context, name, actor string) (*backup.BackupRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	if f.err != nil {
		return &backup.BackupRecord{ServerName: name, Status: backup.StatusFailed}, f.err
	}
	return &backup.BackupRecord{ServerName: name, Status: backup.StatusCompleted}, nil
}

func TestRunBackup(t *testing.T) {
	status, activity := setupStores(t)
	backups := &fakeBackuper{}
	s := New(&fakeRunner{}, status, activity)
	s.SetBackups(backups)

	sc := config.ScheduleConfig{Server: "alpha", Cron: "@daily", Action: config.ActionBackup}
	if _, err := s.Add(sc); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.Run(context.Background(), sc); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	backups.err = errors.New("disk full")
	if err := s.Run(context.Background(), sc); err == nil {
		t.Fatal("expected backup failure to be returned")
	}

	runs, err := status.ScheduleRuns("alpha", 0)
	if err != nil {
		t.Fatalf("ScheduleRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	outcomes := map[string]bool{runs[0].Outcome: true, runs[1].Outcome: true}
	if !outcomes[backup.StatusCompleted] || !outcomes[backup.StatusFailed] {
		t.Fatalf("unexpected outcomes %+v", runs)
	}
	if len(backups.names) != 2 || backups.names[0] != "alpha" {
		t.Fatalf("unexpected backup calls %v", backups.names)
	}
}

func TestSchedulerFires(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, nil, nil)
	if _, err := s.Add(config.ScheduleConfig{Server: "alpha", Cron: "@every 1s", Action: config.ActionStop}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	s.Start()
	entries := s.Entries()
	if len(entries) != 1 || entries[0].Next.IsZero() {
		t.Fatalf("expected a scheduled entry, got %+v", entries)
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(runner.Calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	calls := runner.Calls()
	if len(calls) == 0 {
		t.Fatal("expected the schedule to fire")
	}
	if calls[0] != (call{"stop", "alpha", Actor}) {
		t.Fatalf("unexpected call: %+v", calls[0])
	}
}
