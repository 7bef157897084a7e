package server

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLayoutHandleCreatesDirectory(t *testing.T) {
	home := t.TempDir()
	layout := NewLayout(home)

	h, err := layout.Handle("alpha")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if h.Dir != filepath.Join(home, "servers", "alpha") {
		t.Fatalf("unexpected dir %s", h.Dir)
	}
	if info, err := os.Stat(h.Dir); err != nil || !info.IsDir() {
		t.Fatalf("expected directory to exist: %v", err)
	}
	if h.PIDFile() != filepath.Join(h.Dir, "server.pid") {
		t.Fatalf("unexpected pid file %s", h.PIDFile())
	}
	if h.ConsoleLog() != filepath.Join(h.Dir, "logs", "console.log") {
		t.Fatalf("unexpected console log %s", h.ConsoleLog())
	}
}

func TestLayoutRejectsUnsafeNames(t *testing.T) {
	layout := NewLayout(t.TempDir())
	for _, name := range []string{"", "..", "../etc", "a/b", ".hidden"} {
		if _, err := layout.Handle(name); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("expected ErrInvalidName for %q, got %v", name, err)
		}
	}
}

func TestLayoutListAndLookup(t *testing.T) {
	layout := NewLayout(t.TempDir())
	if handles, err := layout.List(); err != nil || len(handles) != 0 {
		t.Fatalf("expected empty list before any server exists, got %v %v", handles, err)
	}

	for _, name := range []string{"beta", "alpha"} {
		if _, err := layout.Handle(name); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	handles, err := layout.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(handles) != 2 || handles[0].Name != "alpha" || handles[1].Name != "beta" {
		t.Fatalf("unexpected handles %+v", handles)
	}

	if _, err := layout.Lookup("gamma"); !errors.Is(err, ErrServerNotFound) {
		t.Fatalf("expected ErrServerNotFound, got %v", err)
	}
	if h, err := layout.Lookup("beta"); err != nil || h.Name != "beta" {
		t.Fatalf("Lookup: %+v %v", h, err)
	}
}

func TestReadPIDRejectsGarbage(t *testing.T) {
	h, err := NewLayout(t.TempDir()).Handle("alpha")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if _, ok := ReadPID(h); ok {
		t.Fatal("expected no pid without a file")
	}
	for _, content := range []string{"", "abc", "-5", "0"} {
		if err := os.WriteFile(h.PIDFile(), []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, ok := ReadPID(h); ok {
			t.Fatalf("expected %q to be rejected", content)
		}
	}
	if err := os.WriteFile(h.PIDFile(), []byte("1234\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if pid, ok := ReadPID(h); !ok || pid != 1234 {
		t.Fatalf("expected 1234, got %d %v", pid, ok)
	}
}
