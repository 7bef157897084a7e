//go:build !windows

package server

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestIsRunningRemovesStalePIDFile(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Skipf("true not available: %v", err)
	}
	exited := cmd.Process.Pid

	h, err := NewLayout(t.TempDir()).Handle("stale")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := writePID(h, exited); err != nil {
		t.Fatalf("writePID: %v", err)
	}

	s := NewSupervisor(Options{})
	if s.IsRunning(h) {
		t.Fatalf("expected exited pid %d to be reported as not running", exited)
	}
	if _, err := os.Stat(h.PIDFile()); !os.IsNotExist(err) {
		t.Fatalf("expected pid file to be gone, stat err=%v", err)
	}
}

func TestAlphaLifecycleWithRealProcess(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	root := t.TempDir()
	runtime := filepath.Join(root, "fake-java")
	if err := os.WriteFile(runtime, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755); err != nil {
		t.Fatalf("write runtime: %v", err)
	}
	h, err := NewLayout(root).Handle("alpha")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	touch(t, filepath.Join(h.Dir, "server.jar"))

	s := NewSupervisor(Options{
		JavaBin:        runtime,
		ConfirmTimeout: 5 * time.Second,
		PollInterval:   20 * time.Millisecond,
		StopGrace:      2 * time.Second,
	})
	ctx := context.Background()

	started, err := s.Start(ctx, h)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.procs.Terminate(started.PID, true) })
	if started.Outcome != OutcomeStarted || started.PID <= 0 {
		t.Fatalf("unexpected start result %+v", started)
	}
	if pid, ok := ReadPID(h); !ok || pid != started.PID {
		t.Fatalf("pid file holds %d, expected %d", pid, started.PID)
	}

	again, err := s.Start(ctx, h)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if again.Outcome != OutcomeAlreadyRunning || again.PID != started.PID {
		t.Fatalf("unexpected second start result %+v", again)
	}

	stopped, err := s.Stop(ctx, h, false)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopped.Outcome != OutcomeStopped {
		t.Fatalf("unexpected stop result %+v", stopped)
	}
	if _, err := os.Stat(h.PIDFile()); !os.IsNotExist(err) {
		t.Fatal("expected pid file to be gone after stop")
	}

	again2, err := s.Stop(ctx, h, false)
	if err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if again2.Outcome != OutcomeNotRunning {
		t.Fatalf("unexpected second stop result %+v", again2)
	}
}

func TestStartRunnerWrapperReportsServerPID(t *testing.T) {
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("/bin/bash not available")
	}
	for _, bin := range []string{"sleep", "nohup"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available", bin)
		}
	}
	h, err := NewLayout(t.TempDir()).Handle("wrapped")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := os.WriteFile(filepath.Join(h.Dir, "run.sh"), []byte("#!/bin/sh\nexec sleep 30\n"), 0o755); err != nil {
		t.Fatalf("write run.sh: %v", err)
	}

	s := NewSupervisor(Options{
		ConfirmTimeout: 5 * time.Second,
		PollInterval:   50 * time.Millisecond,
		StopGrace:      2 * time.Second,
	})
	started, err := s.Start(context.Background(), h)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		if pid, ok := ReadPID(h); ok {
			_ = s.procs.Terminate(pid, true)
		}
		_ = s.procs.Terminate(started.PID, true)
	})
	if started.Outcome != OutcomeStarted {
		t.Fatalf("unexpected start result %+v", started)
	}
	filePID, ok := ReadPID(h)
	if !ok || filePID != started.PID {
		t.Fatalf("pid file holds %d, start reported %d", filePID, started.PID)
	}
	// the wrapper exits right after backgrounding run.sh
	time.Sleep(200 * time.Millisecond)
	if !s.alive(started.PID) {
		t.Fatalf("reported pid %d is not alive", started.PID)
	}
}

func TestTerminateIgnoresMissingProcess(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Skipf("true not available: %v", err)
	}
	if err := (osProcessManager{}).Terminate(cmd.Process.Pid, true); err != nil {
		t.Fatalf("expected ESRCH to be swallowed, got %v", err)
	}
	if (osProcessManager{}).Exists(0) {
		t.Fatal("pid 0 must never be reported as existing")
	}
}
