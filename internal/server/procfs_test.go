package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestParseProcStatWithSpacesInName(t *testing.T) {
	st, err := parseProcStat("77 (Server Thread) S 1 77 77 0 -1 4194560 0 0 0 0 12 3 0 0 20 0 40 0 100 1000 512 18446744073709551615")
	if err != nil {
		t.Fatalf("parseProcStat: %v", err)
	}
	if st.PID != 77 || st.Comm != "Server Thread" || st.State != "S" {
		t.Fatalf("unexpected stat %+v", st)
	}
	if st.UTime != 12 || st.STime != 3 || st.RSSPages != 512 {
		t.Fatalf("unexpected counters %+v", st)
	}
}

func TestFindByCwdSkipsZombiesAndOtherDirs(t *testing.T) {
	root := t.TempDir()
	procRoot := filepath.Join(root, "proc")
	serverDir := filepath.Join(root, "alpha")
	other := filepath.Join(root, "beta")
	for _, d := range []string{procRoot, serverDir, other} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	fakeProcess(t, procRoot, 10, "java", "Z", serverDir)
	fakeProcess(t, procRoot, 11, "java", "S", other)
	fakeProcess(t, procRoot, 12, "java", "S", serverDir)

	pid, err := procFS(procRoot).findByCwd(serverDir, "java")
	if err != nil {
		t.Fatalf("findByCwd: %v", err)
	}
	if pid != 12 {
		t.Fatalf("expected pid 12, got %d", pid)
	}
}

func TestStatsFromProcFS(t *testing.T) {
	procs := NewMockProcessManager()
	procs.live[55] = true
	s, h, procRoot := newTestSupervisor(t, procs)
	fakeProcess(t, procRoot, 55, "java", "S", h.Dir)
	if err := os.WriteFile(filepath.Join(procRoot, "stat"), []byte("cpu  100 0 100 800 0 0 0 0 0 0\ncpu0 100 0 100 800 0 0 0 0 0 0\n"), 0o644); err != nil {
		t.Fatalf("write stat: %v", err)
	}
	if err := os.WriteFile(filepath.Join(procRoot, "meminfo"), []byte("MemTotal:       8000 kB\nMemFree:        1000 kB\nMemAvailable:   6000 kB\n"), 0o644); err != nil {
		t.Fatalf("write meminfo: %v", err)
	}
	if err := writePID(h, 55); err != nil {
		t.Fatalf("writePID: %v", err)
	}

	stats, err := s.Stats(context.Background(), h)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.MemTotal != 8000*1024 || stats.MemUsed != 2000*1024 {
		t.Fatalf("unexpected memory %+v", stats)
	}
	if !stats.Running || stats.PID != 55 {
		t.Fatalf("expected running pid 55, got %+v", stats)
	}
	if stats.ProcRSS != 2048*uint64(os.Getpagesize()) {
		t.Fatalf("unexpected rss %d", stats.ProcRSS)
	}
	if stats.CPUPercent != 0 {
		t.Fatalf("expected 0%% cpu for an unchanged sample, got %f", stats.CPUPercent)
	}
}

func TestCPUPercent(t *testing.T) {
	if got := cpuPercent(800, 1000, 850, 1100); got != 50 {
		t.Fatalf("expected 50, got %f", got)
	}
	if got := cpuPercent(0, 100, 0, 100); got != 0 {
		t.Fatalf("expected 0 for no elapsed time, got %f", got)
	}
}
