package backup

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/TheGojiOG/mcpanel/internal/config"
	"github.com/TheGojiOG/mcpanel/internal/crypto"
)

func TestLocalDestinationUploadDownloadDelete(t *testing.T) {
	ctx := context.Background()
	ld := NewLocalDestination(t.TempDir())

	content := []byte("backup-data")
	if err := ld.Upload(ctx, "alpha/test.tar.gz", bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	var buf bytes.Buffer
	if err := ld.Download(ctx, "alpha/test.tar.gz", &buf); err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), content) {
		t.Fatalf("downloaded content mismatch")
	}

	files, err := ld.List(ctx, "alpha")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(files) != 1 || files[0].Key != "alpha/test.tar.gz" || files[0].SizeBytes != int64(len(content)) {
		t.Fatalf("unexpected listing %+v", files)
	}

	if err := ld.Delete(ctx, "alpha/test.tar.gz"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if files, _ := ld.List(ctx, "alpha"); len(files) != 0 {
		t.Fatalf("expected backup file to be removed, got %+v", files)
	}
	if err := ld.Delete(ctx, "alpha/test.tar.gz"); err != nil {
		t.Fatalf("deleting a missing file should succeed, got %v", err)
	}
}

func TestLocalDestinationSizeMismatch(t *testing.T) {
	ld := NewLocalDestination(t.TempDir())
	err := ld.Upload(context.Background(), "a/x.tar", strings.NewReader("abc"), 10)
	if err == nil || !strings.Contains(err.Error(), "size mismatch") {
		t.Fatalf("expected size mismatch, got %v", err)
	}
	if files, _ := ld.List(context.Background(), "a"); len(files) != 0 {
		t.Fatalf("expected no files after failed upload, got %+v", files)
	}
}

func TestLocalDestinationRejectsEscapingKeys(t *testing.T) {
	ld := NewLocalDestination(t.TempDir())
	err := ld.Upload(context.Background(), "../x.tar", strings.NewReader("a"), 1)
	if !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("expected ErrUnsafePath, got %v", err)
	}
}

func TestNewDestination(t *testing.T) {
	ctx := context.Background()
	resolver, err := crypto.NewResolver("")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	if _, err := NewDestination(ctx, config.DestinationConfig{Type: "invalid"}, resolver); err == nil {
		t.Fatal("expected error for invalid destination type")
	}

	dest, err := NewDestination(ctx, config.DestinationConfig{Type: config.DestinationLocal, Path: t.TempDir()}, resolver)
	if err != nil || dest.GetType() != "local" {
		t.Fatalf("expected local destination, got %v, %v", dest, err)
	}

	_, err = NewDestination(ctx, config.DestinationConfig{
		Type:      config.DestinationS3,
		Bucket:    "worlds",
		SecretKey: "enc:v1:AAAA",
	}, resolver)
	if !errors.Is(err, crypto.ErrNoKey) {
		t.Fatalf("expected ErrNoKey for encrypted secret without key, got %v", err)
	}
}

func TestS3ObjectKeys(t *testing.T) {
	dest, err := NewS3Destination(config.DestinationConfig{
		Type:     config.DestinationS3,
		Bucket:   "worlds",
		Region:   "us-east-1",
		Path:     "mcpanel",
		Endpoint: "http://127.0.0.1:9000",
	})
	if err != nil {
		t.Fatalf("NewS3Destination: %v", err)
	}
	if got := dest.objectKey("alpha/a.tar.gz"); got != "mcpanel/alpha/a.tar.gz" {
		t.Fatalf("unexpected object key %q", got)
	}
	if got := dest.Location(); got != "s3://worlds/mcpanel" {
		t.Fatalf("unexpected location %q", got)
	}
}
