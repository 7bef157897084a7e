package server

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
)

// ErrNoRunnableTarget means neither a launch script nor a server jar exists.
var ErrNoRunnableTarget = errors.New("no server jar found")

type TargetKind string

const (
	TargetScript TargetKind = "script"
	TargetJar    TargetKind = "jar"
)

// Target is what the supervisor launches for a server directory.
type Target struct {
	Kind TargetKind `json:"kind"`
	Name string     `json:"name"`
	// Fabric launchers run with a plain -jar and no heap or nogui flags.
	Fabric bool   `json:"fabric,omitempty"`
	Xms    string `json:"xms,omitempty"`
	Xmx    string `json:"xmx,omitempty"`
}

var (
	fabricLaunchers = []string{"fabric-server-launch.jar", "fabric-server-launcher.jar"}
	jarPrefixes     = []string{"forge-", "neoforge-", "minecraft_server", "server"}
	jarExclusions   = []string{"installer", "install", "shim", "client"}

	xmsPattern = regexp.MustCompile(`-Xms([0-9]+[KkMmGg]?)\b`)
	xmxPattern = regexp.MustCompile(`-Xmx([0-9]+[KkMmGg]?)\b`)
)

const runnerWrapper = `#!/usr/bin/env bash
set -euo pipefail
cd "$(dirname "$0")"
mkdir -p logs
: > logs/console.log
chmod +x "./run.sh" 2>/dev/null || true
nohup ./run.sh >> logs/console.log 2>&1 &
echo $! > server.pid
exit 0
`

// FindTarget picks the launch target for dir. A pack-provided run.sh gets a
// start.sh wrapper generated next to it first.
func FindTarget(dir string) (Target, error) {
	if runtime.GOOS == "windows" {
		if fileExists(filepath.Join(dir, "start.bat")) {
			return Target{Kind: TargetScript, Name: "start.bat"}, nil
		}
	} else {
		if fileExists(filepath.Join(dir, "run.sh")) {
			if err := ensureRunnerWrapper(dir); err != nil {
				return Target{}, err
			}
		}
		startSh := filepath.Join(dir, "start.sh")
		if fileExists(startSh) {
			if err := os.Chmod(startSh, 0o755); err != nil {
				log.Printf("[Supervisor] Failed to mark %s executable: %v", startSh, err)
			}
			return Target{Kind: TargetScript, Name: "start.sh"}, nil
		}
	}

	jar, err := findJar(dir)
	if err != nil {
		return Target{}, err
	}
	xms, xmx := memFromStartScript(dir)
	return Target{
		Kind:   TargetJar,
		Name:   jar,
		Fabric: isFabricLauncher(jar),
		Xms:    xms,
		Xmx:    xmx,
	}, nil
}

// Command builds the argv for the target.
func (t Target) Command(opts Options) []string {
	switch {
	case t.Kind == TargetScript && t.Name == "start.bat":
		return []string{"cmd", "/c", "start.bat"}
	case t.Kind == TargetScript:
		shell := "/bin/bash"
		if !fileExists(shell) {
			shell = "sh"
		}
		return []string{shell, "./" + t.Name}
	case t.Fabric:
		return []string{opts.JavaBin, "-jar", t.Name}
	}
	xms, xmx := t.Xms, t.Xmx
	if xms == "" {
		xms = opts.DefaultXms
	}
	if xmx == "" {
		xmx = opts.DefaultXmx
	}
	return []string{opts.JavaBin, "-Xms" + xms, "-Xmx" + xmx, "-jar", t.Name, "nogui"}
}

func isServerJar(name string) bool {
	low := strings.ToLower(name)
	if !strings.HasSuffix(low, ".jar") {
		return false
	}
	for _, ex := range jarExclusions {
		if strings.Contains(low, ex) {
			return false
		}
	}
	return true
}

func isFabricLauncher(name string) bool {
	low := strings.ToLower(name)
	return strings.HasPrefix(low, "fabric-server-launch") || strings.HasPrefix(low, "fabric-installer")
}

func findJar(dir string) (string, error) {
	for _, fav := range fabricLaunchers {
		if fileExists(filepath.Join(dir, fav)) && isServerJar(fav) {
			return fav, nil
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoRunnableTarget
		}
		return "", fmt.Errorf("failed to read server directory: %w", err)
	}
	jars := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isServerJar(entry.Name()) {
			continue
		}
		jars = append(jars, entry.Name())
	}
	sort.Strings(jars)

	for _, prefix := range jarPrefixes {
		for _, jar := range jars {
			if strings.HasPrefix(jar, prefix) {
				return jar, nil
			}
		}
	}
	if len(jars) > 0 {
		return jars[0], nil
	}
	return "", ErrNoRunnableTarget
}

// memFromStartScript reads -Xms/-Xmx from start.sh. Missing values come back
// empty.
func memFromStartScript(dir string) (xms, xmx string) {
	data, err := os.ReadFile(filepath.Join(dir, "start.sh"))
	if err != nil {
		return "", ""
	}
	if m := xmsPattern.FindSubmatch(data); m != nil {
		xms = string(m[1])
	}
	if m := xmxPattern.FindSubmatch(data); m != nil {
		xmx = string(m[1])
	}
	return xms, xmx
}

func ensureRunnerWrapper(dir string) error {
	startSh := filepath.Join(dir, "start.sh")
	if fileExists(startSh) {
		return nil
	}
	if err := os.WriteFile(startSh, []byte(runnerWrapper), 0o755); err != nil {
		return fmt.Errorf("failed to write runner wrapper: %w", err)
	}
	log.Printf("[Supervisor] Generated start.sh wrapper for run.sh in %s", dir)
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
