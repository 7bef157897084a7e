package database

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAppliesMigrations(t *testing.T) {
	db := openTestDB(t)

	applied, err := db.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(applied) != len(migrations) {
		t.Fatalf("expected %d migrations, got %v", len(migrations), applied)
	}

	// running again is a no-op
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestRollbackRemovesLastMigration(t *testing.T) {
	db := openTestDB(t)

	if err := db.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	applied, err := db.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(applied) != len(migrations)-1 {
		t.Fatalf("expected one migration rolled back, got %v", applied)
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name = 'server_metrics'").Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 0 {
		t.Fatal("expected server_metrics to be dropped")
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("re-Migrate: %v", err)
	}
}

func TestStatusStoreRecordsLifecycle(t *testing.T) {
	db := openTestDB(t)
	store := NewStatusStore(db.DB)

	if st, err := store.Get("alpha"); err != nil || st != nil {
		t.Fatalf("expected no status, got %+v %v", st, err)
	}

	if err := store.RecordStart("alpha", "running", "started", 4242, ""); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	st, err := store.Get("alpha")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.State != "running" || st.PID != 4242 || st.LastStarted == nil || st.LastStopped != nil {
		t.Fatalf("unexpected status after start %+v", st)
	}

	if err := store.RecordStop("alpha", "stopped", ""); err != nil {
		t.Fatalf("RecordStop: %v", err)
	}
	st, err = store.Get("alpha")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.State != "stopped" || st.PID != 0 || st.LastStarted == nil || st.LastStopped == nil {
		t.Fatalf("unexpected status after stop %+v", st)
	}
}

func TestScheduleRuns(t *testing.T) {
	db := openTestDB(t)
	store := NewStatusStore(db.DB)

	id, err := store.BeginScheduleRun("alpha", "restart", "0 4 * * *")
	if err != nil {
		t.Fatalf("BeginScheduleRun: %v", err)
	}
	if err := store.FinishScheduleRun(id, "started", ""); err != nil {
		t.Fatalf("FinishScheduleRun: %v", err)
	}

	runs, err := store.ScheduleRuns("alpha", 5)
	if err != nil {
		t.Fatalf("ScheduleRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Outcome != "started" || runs[0].FinishedAt == nil {
		t.Fatalf("unexpected runs %+v", runs)
	}
}
