package backup

import (
	"compress/gzip"
	"io"
	"path"
	"strings"
)

// CompressionConfig controls archive compression
// Type values: "gzip", "none"
type CompressionConfig struct {
	Type  string `json:"type"`
	Level int    `json:"level,omitempty"`
}

func normalizeCompression(config CompressionConfig) CompressionConfig {
	compressionType := strings.ToLower(strings.TrimSpace(config.Type))
	if compressionType != "none" {
		compressionType = "gzip"
	}

	level := config.Level
	if level == 0 {
		level = 6
	}
	level = min(max(level, 1), 9)

	if compressionType == "none" {
		level = 0
	}
	return CompressionConfig{
		Type:  compressionType,
		Level: level,
	}
}

func compressionArchiveExtension(config CompressionConfig) string {
	switch normalizeCompression(config).Type {
	case "none":
		return "tar"
	default:
		return "tar.gz"
	}
}

func detectCompressionFromFilename(filename string) CompressionConfig {
	base := strings.ToLower(path.Base(filename))
	switch {
	case strings.HasSuffix(base, ".tar.gz") || strings.HasSuffix(base, ".tgz"):
		return CompressionConfig{Type: "gzip", Level: 6}
	case strings.HasSuffix(base, ".tar"):
		return CompressionConfig{Type: "none"}
	default:
		return CompressionConfig{Type: "gzip", Level: 6}
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// compressWriter wraps w in the configured compressor. Closing the result
// flushes the compressor but leaves w open.
func compressWriter(w io.Writer, config CompressionConfig) (io.WriteCloser, error) {
	compression := normalizeCompression(config)
	if compression.Type == "none" {
		return nopWriteCloser{w}, nil
	}
	return gzip.NewWriterLevel(w, compression.Level)
}

func decompressReader(r io.Reader, config CompressionConfig) (io.ReadCloser, error) {
	if normalizeCompression(config).Type == "none" {
		return io.NopCloser(r), nil
	}
	return gzip.NewReader(r)
}
