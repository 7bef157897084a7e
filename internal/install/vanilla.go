package install

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ManifestURL lists every released Minecraft version.
const ManifestURL = "https://piston-meta.mojang.com/mc/game/version_manifest_v2.json"

var (
	ErrUnknownVersion = errors.New("unknown Minecraft version")
	ErrNoServerJar    = errors.New("version has no server download")
	ErrChecksum       = errors.New("server jar checksum mismatch")
)

type versionManifest struct {
	Latest struct {
		Release  string `json:"release"`
		Snapshot string `json:"snapshot"`
	} `json:"latest"`
	Versions []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"versions"`
}

type versionDetail struct {
	Downloads struct {
		Server *struct {
			SHA1 string `json:"sha1"`
			Size int64  `json:"size"`
			URL  string `json:"url"`
		} `json:"server"`
	} `json:"downloads"`
}

type serverDownload struct {
	URL  string
	SHA1 string
}

// resolveVersion maps "latest" (or empty) to the current release and checks
// that an explicit version exists.
func resolveVersion(m *versionManifest, version string) (string, error) {
	v := strings.TrimSpace(version)
	if v == "" || strings.EqualFold(v, "latest") {
		if m.Latest.Release == "" {
			return "", fmt.Errorf("%w: manifest has no latest release", ErrUnknownVersion)
		}
		return m.Latest.Release, nil
	}
	if strings.EqualFold(v, "snapshot") && m.Latest.Snapshot != "" {
		return m.Latest.Snapshot, nil
	}
	for _, entry := range m.Versions {
		if entry.ID == v {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownVersion, v)
}

func (i *Installer) serverDownload(ctx context.Context, m *versionManifest, version string) (serverDownload, error) {
	for _, entry := range m.Versions {
		if entry.ID != version {
			continue
		}
		var detail versionDetail
		if err := i.fetcher.GetJSON(ctx, entry.URL, &detail); err != nil {
			return serverDownload{}, fmt.Errorf("failed to fetch version %s: %w", version, err)
		}
		if detail.Downloads.Server == nil || detail.Downloads.Server.URL == "" {
			return serverDownload{}, fmt.Errorf("%w: %s", ErrNoServerJar, version)
		}
		return serverDownload{URL: detail.Downloads.Server.URL, SHA1: detail.Downloads.Server.SHA1}, nil
	}
	return serverDownload{}, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
}

// downloadJar writes the artifact to dest through a temporary file so a
// failed download never leaves a truncated server.jar behind.
func (i *Installer) downloadJar(ctx context.Context, dl serverDownload, dest string, progress func(done, total int64)) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".server-*.jar.part")
	if err != nil {
		return fmt.Errorf("failed to create download file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	sum := sha1.New()
	err = i.fetcher.Download(ctx, dl.URL, io.MultiWriter(tmp, sum), progress)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	if dl.SHA1 != "" {
		if got := hex.EncodeToString(sum.Sum(nil)); !strings.EqualFold(got, dl.SHA1) {
			return fmt.Errorf("%w: expected %s, got %s", ErrChecksum, dl.SHA1, got)
		}
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("failed to move server jar into place: %w", err)
	}
	return nil
}
