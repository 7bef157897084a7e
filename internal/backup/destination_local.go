package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
)

// LocalDestination stores backups on the local filesystem
type LocalDestination struct {
	basePath string
}

// NewLocalDestination creates a new local destination
func NewLocalDestination(basePath string) *LocalDestination {
	return &LocalDestination{
		basePath: basePath,
	}
}

// Upload copies a backup file to the local destination. The file is written
// under a temporary name and renamed once complete.
func (ld *LocalDestination) Upload(ctx context.Context, key string, reader io.Reader, sizeBytes int64) error {
	destPath, err := safeJoin(ld.basePath, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	log.Printf("[LocalDest] Uploading %s to %s (%d bytes)", key, destPath, sizeBytes)

	tmp := destPath + ".partial"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}

	written, err := io.Copy(file, &ctxReader{ctx: ctx, r: reader})
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	if written != sizeBytes {
		os.Remove(tmp)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize backup file: %w", err)
	}
	return nil
}

// Download reads a backup file from the local destination
func (ld *LocalDestination) Download(ctx context.Context, key string, writer io.Writer) error {
	srcPath, err := safeJoin(ld.basePath, key)
	if err != nil {
		return err
	}
	file, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(writer, &ctxReader{ctx: ctx, r: file}); err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}
	return nil
}

// Delete removes a backup file from the local destination. A file that is
// already gone is not an error.
func (ld *LocalDestination) Delete(ctx context.Context, key string) error {
	destPath, err := safeJoin(ld.basePath, key)
	if err != nil {
		return err
	}
	log.Printf("[LocalDest] Deleting %s", destPath)
	if err := os.Remove(destPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete backup file: %w", err)
	}
	return nil
}

// List returns the backup files under prefix
func (ld *LocalDestination) List(ctx context.Context, prefix string) ([]BackupFile, error) {
	dir, err := safeJoin(ld.basePath, prefix)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var files []BackupFile
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) == ".partial" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			log.Printf("[LocalDest] Warning: Failed to get info for %s: %v", entry.Name(), err)
			continue
		}
		files = append(files, BackupFile{
			Key:       filepath.ToSlash(filepath.Join(prefix, entry.Name())),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().Unix(),
		})
	}
	return files, nil
}

// GetType returns the destination type
func (ld *LocalDestination) GetType() string {
	return "local"
}

func (ld *LocalDestination) Location() string {
	return ld.basePath
}

func (ld *LocalDestination) Close() error {
	return nil
}

// ctxReader stops a copy once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
