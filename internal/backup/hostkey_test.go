package backup

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestHostKeyTrustOnFirstUse(t *testing.T) {
	knownHostsPath := filepath.Join(t.TempDir(), "ssh", "known_hosts")
	addr := &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 2222}

	callback, err := NewHostKeyCallback(knownHostsPath, true)
	if err != nil {
		t.Fatalf("NewHostKeyCallback: %v", err)
	}
	first := testPublicKey(t)
	if err := callback("backup.example.net:2222", addr, first); err != nil {
		t.Fatalf("expected first key to be accepted, got %v", err)
	}

	data, err := os.ReadFile(knownHostsPath)
	if err != nil {
		t.Fatalf("read known_hosts: %v", err)
	}
	if !strings.Contains(string(data), "[backup.example.net]:2222") || !strings.Contains(string(data), "[192.0.2.10]:2222") {
		t.Fatalf("unexpected known_hosts entry %q", data)
	}

	// a fresh callback reads the stored key back
	callback, err = NewHostKeyCallback(knownHostsPath, false)
	if err != nil {
		t.Fatalf("NewHostKeyCallback: %v", err)
	}
	if err := callback("backup.example.net:2222", addr, first); err != nil {
		t.Fatalf("expected stored key to verify, got %v", err)
	}
	if err := callback("backup.example.net:2222", addr, testPublicKey(t)); err == nil || !strings.Contains(err.Error(), "changed") {
		t.Fatalf("expected host key change to be rejected, got %v", err)
	}
}

func TestHostKeyUnknownRejectedWithoutTOFU(t *testing.T) {
	knownHostsPath := filepath.Join(t.TempDir(), "known_hosts")
	callback, err := NewHostKeyCallback(knownHostsPath, false)
	if err != nil {
		t.Fatalf("NewHostKeyCallback: %v", err)
	}
	addr := &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 22}
	if err := callback("backup.example.net:22", addr, testPublicKey(t)); err == nil {
		t.Fatal("expected unknown host key to be rejected")
	}
}

func TestNewHostKeyCallbackRequiresPath(t *testing.T) {
	if _, err := NewHostKeyCallback("", true); err == nil {
		t.Fatal("expected an error without a known_hosts path")
	}
}

func testPublicKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("NewPublicKey: %v", err)
	}
	return key
}
