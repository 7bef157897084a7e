package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TheGojiOG/mcpanel/internal/auth"
	"github.com/TheGojiOG/mcpanel/internal/backup"
	"github.com/TheGojiOG/mcpanel/internal/console"
	"github.com/TheGojiOG/mcpanel/internal/crypto"
)

func TestHashPasswordCmd(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader("hunter2\n"))
	root.SetArgs([]string{"hash-password", "--cost", "4"})

	if err := root.Execute(); err != nil {
		t.Fatalf("hash-password failed: %v", err)
	}
	hash := strings.TrimSpace(out.String())
	if err := auth.VerifyPassword("hunter2", hash); err != nil {
		t.Fatalf("hash does not verify: %v", err)
	}
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetIn(strings.NewReader("\n"))
	root.SetArgs([]string{"hash-password"})

	if err := root.Execute(); err == nil {
		t.Fatal("expected an error for an empty password")
	}
}

func TestLineFilter(t *testing.T) {
	filter, err := console.ParseFilter("errors")
	if err != nil {
		t.Fatalf("ParseFilter failed: %v", err)
	}
	var out bytes.Buffer
	lf := &lineFilter{w: &out, filter: filter}

	lf.Write([]byte("[Server thread/INFO]: Done\n[Server thread/ERR"))
	lf.Write([]byte("OR]: Failed to bind\npartial error"))
	if got := out.String(); got != "[Server thread/ERROR]: Failed to bind\n" {
		t.Fatalf("unexpected output before flush: %q", got)
	}
	if err := lf.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if !strings.HasSuffix(out.String(), "partial error\n") {
		t.Fatalf("expected partial line after flush, got %q", out.String())
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[uint64]string{
		512:             "512 B",
		2048:            "2.0 KiB",
		3 * 1024 * 1024: "3.0 MiB",
		5 << 30:         "5.0 GiB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestEncryptSecretCmd(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	t.Setenv("MCPANEL_ENCRYPTION_KEY", key)

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader("bucket-secret\n"))
	root.SetArgs([]string{"--home", t.TempDir(), "encrypt-secret"})
	if err := root.Execute(); err != nil {
		t.Fatalf("encrypt-secret failed: %v", err)
	}

	enc := strings.TrimSpace(out.String())
	if !crypto.IsEncrypted(enc) {
		t.Fatalf("expected an encrypted value, got %q", enc)
	}
	resolver, err := crypto.NewResolver(key)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	if got, err := resolver.Resolve(enc); err != nil || got != "bucket-secret" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
}

func TestEncryptSecretRequiresKey(t *testing.T) {
	t.Setenv("MCPANEL_ENCRYPTION_KEY", "")
	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetIn(strings.NewReader("bucket-secret\n"))
	root.SetArgs([]string{"--home", t.TempDir(), "encrypt-secret"})

	if err := root.Execute(); !errors.Is(err, crypto.ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
}

func TestBackupCmdRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MCPANEL_ENCRYPTION_KEY", "")
	level := filepath.Join(dir, "servers", "alpha", "world", "level.dat")
	if err := os.MkdirAll(filepath.Dir(level), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(level, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	run := func(args ...string) string {
		t.Helper()
		root := NewRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetArgs(append([]string{"--home", dir}, args...))
		if err := root.Execute(); err != nil {
			t.Fatalf("%v failed: %v", args, err)
		}
		return out.String()
	}

	created := run("backup", "create", "alpha")
	fields := strings.Fields(created)
	if len(fields) < 2 || !strings.HasPrefix(fields[1], "backup-") {
		t.Fatalf("unexpected create output %q", created)
	}
	id := fields[1]

	var records []backup.BackupRecord
	if err := json.Unmarshal([]byte(run("backup", "list", "alpha", "--json")), &records); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(records) != 1 || records[0].ID != id || records[0].Status != backup.StatusCompleted {
		t.Fatalf("unexpected records %+v", records)
	}

	if err := os.WriteFile(level, []byte("v2"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	run("backup", "restore", id)
	if data, _ := os.ReadFile(level); string(data) != "v1" {
		t.Fatalf("expected restored level.dat, got %q", data)
	}

	run("backup", "delete", id)
	if out := run("backup", "list", "alpha"); !strings.Contains(out, "No backups") {
		t.Fatalf("expected no backups after delete, got %q", out)
	}
}
