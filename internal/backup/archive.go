package backup

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnsafePath is returned when an archive entry would land outside the
// extraction directory.
var ErrUnsafePath = errors.New("archive entry escapes target directory")

// ArchiveInfo contains metadata about a created archive
type ArchiveInfo struct {
	Filename    string
	Path        string
	SizeBytes   int64
	CreatedAt   time.Time
	FileCount   int
	Compression CompressionConfig
}

// archiveFilename names a new archive for a server. The suffix keeps two
// backups taken within the same second apart.
func archiveFilename(server, suffix string, at time.Time, compression CompressionConfig) string {
	return fmt.Sprintf("%s_%s_%s.%s", server, at.UTC().Format("2006-01-02_15-04-05"), suffix, compressionArchiveExtension(compression))
}

// CreateArchive writes the contents of srcDir into a tar archive at
// archivePath. Entry names are relative to srcDir. Paths matching an exclude
// pattern are skipped; a pattern without a slash also matches base names.
func CreateArchive(ctx context.Context, srcDir, archivePath string, exclude []string, compression CompressionConfig) (*ArchiveInfo, error) {
	compression = normalizeCompression(compression)
	log.Printf("[Archive] Creating %s from %s", filepath.Base(archivePath), srcDir)

	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	file, err := os.Create(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	info := &ArchiveInfo{
		Filename:    filepath.Base(archivePath),
		Path:        archivePath,
		CreatedAt:   time.Now().UTC(),
		Compression: compression,
	}
	err = writeArchive(ctx, file, srcDir, archivePath, exclude, compression, &info.FileCount)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close archive: %w", closeErr)
	}
	if err != nil {
		os.Remove(archivePath)
		return nil, err
	}

	stat, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	info.SizeBytes = stat.Size()
	log.Printf("[Archive] Archive %s complete: %d files, %d bytes", info.Filename, info.FileCount, info.SizeBytes)
	return info, nil
}

func writeArchive(ctx context.Context, w io.Writer, srcDir, archivePath string, exclude []string, compression CompressionConfig, count *int) error {
	cw, err := compressWriter(w, compression)
	if err != nil {
		return fmt.Errorf("failed to create compressor: %w", err)
	}
	tw := tar.NewWriter(cw)

	walkErr := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		if rel == "." || p == archivePath {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if isExcluded(rel, exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		return addEntry(tw, p, rel, d, count)
	})
	if walkErr != nil {
		return fmt.Errorf("failed to archive %s: %w", srcDir, walkErr)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("failed to finish compression: %w", err)
	}
	return nil
}

func addEntry(tw *tar.Writer, p, rel string, d fs.DirEntry, count *int) error {
	fi, err := d.Info()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// removed by the running server since the directory was read
			return nil
		}
		return err
	}

	var link string
	switch {
	case fi.Mode()&fs.ModeSymlink != 0:
		if link, err = os.Readlink(p); err != nil {
			return err
		}
	case fi.IsDir(), fi.Mode().IsRegular():
	default:
		return nil
	}

	hdr, err := tar.FileInfoHeader(fi, link)
	if err != nil {
		return err
	}
	hdr.Name = rel
	if fi.IsDir() {
		hdr.Name += "/"
	}
	hdr.Uname, hdr.Gname = "", ""

	if !fi.Mode().IsRegular() {
		return tw.WriteHeader(hdr)
	}

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	// files still growing are cut at the size recorded in the header
	if _, err := io.CopyN(tw, f, hdr.Size); err != nil {
		return fmt.Errorf("failed to copy %s: %w", rel, err)
	}
	*count++
	return nil
}

func isExcluded(rel string, exclude []string) bool {
	for _, entry := range exclude {
		pattern := strings.Trim(filepath.ToSlash(strings.TrimSpace(entry)), "/")
		pattern = strings.TrimPrefix(pattern, "./")
		if pattern == "" {
			continue
		}
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		if !strings.Contains(pattern, "/") {
			if ok, _ := path.Match(pattern, path.Base(rel)); ok {
				return true
			}
		}
	}
	return false
}

// ExtractArchive unpacks an archive into dstDir. Entries that would escape
// dstDir, including through symlinks, are rejected.
func ExtractArchive(ctx context.Context, archivePath, dstDir string) (int, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	cr, err := decompressReader(file, detectCompressionFromFilename(archivePath))
	if err != nil {
		return 0, fmt.Errorf("failed to open compressed stream: %w", err)
	}
	defer cr.Close()

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create target directory: %w", err)
	}

	tr := tar.NewReader(cr)
	files := 0
	for {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return files, fmt.Errorf("failed to read archive: %w", err)
		}

		target, err := safeJoin(dstDir, hdr.Name)
		if err != nil {
			return files, err
		}
		mode := fs.FileMode(hdr.Mode).Perm()

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, mode|0o700); err != nil {
				return files, err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, mode); err != nil {
				return files, fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
			}
			files++
		case tar.TypeSymlink:
			linkTarget := hdr.Linkname
			if !filepath.IsAbs(linkTarget) {
				linkTarget = filepath.Join(filepath.Dir(target), linkTarget)
			}
			if _, err := safeJoin(dstDir, mustRel(dstDir, linkTarget)); err != nil {
				return files, fmt.Errorf("%w: symlink %s -> %s", ErrUnsafePath, hdr.Name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return files, err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return files, err
			}
		default:
			log.Printf("[Archive] Skipping unsupported entry %s (type %c)", hdr.Name, hdr.Typeflag)
		}
	}
}

func writeFile(target string, r io.Reader, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func safeJoin(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.Join(root, clean), nil
}

func mustRel(root, target string) string {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return ".."
	}
	return rel
}
