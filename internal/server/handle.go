package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

var (
	ErrInvalidName    = errors.New("invalid server name")
	ErrServerNotFound = errors.New("server not found")
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Handle identifies one server installation on disk.
type Handle struct {
	Name string `json:"name"`
	Dir  string `json:"dir"`
}

func (h Handle) PIDFile() string        { return filepath.Join(h.Dir, "server.pid") }
func (h Handle) LogDir() string         { return filepath.Join(h.Dir, "logs") }
func (h Handle) ConsoleLog() string     { return filepath.Join(h.LogDir(), "console.log") }
func (h Handle) DebugLog() string       { return filepath.Join(h.LogDir(), "debug.log") }
func (h Handle) PropertiesFile() string { return filepath.Join(h.Dir, "server.properties") }

// LogFiles returns the files an operator usually wants to follow.
func (h Handle) LogFiles() []string {
	return []string{h.ConsoleLog(), h.DebugLog()}
}

// Layout maps server names to directories under a single root.
type Layout struct {
	Root string
}

// NewLayout places servers under <home>/servers.
func NewLayout(home string) Layout {
	return Layout{Root: filepath.Join(home, "servers")}
}

// ValidateName rejects names that are unsafe as a directory component.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Handle returns the handle for name, creating its directory on first use.
func (l Layout) Handle(name string) (Handle, error) {
	if err := ValidateName(name); err != nil {
		return Handle{}, err
	}
	h := Handle{Name: name, Dir: filepath.Join(l.Root, name)}
	if err := os.MkdirAll(h.Dir, 0o755); err != nil {
		return Handle{}, fmt.Errorf("failed to create server directory: %w", err)
	}
	return h, nil
}

// Lookup returns the handle for an existing server without creating anything.
func (l Layout) Lookup(name string) (Handle, error) {
	if err := ValidateName(name); err != nil {
		return Handle{}, err
	}
	h := Handle{Name: name, Dir: filepath.Join(l.Root, name)}
	info, err := os.Stat(h.Dir)
	if err != nil || !info.IsDir() {
		return Handle{}, fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}
	return h, nil
}

// List returns every server directory, sorted by name.
func (l Layout) List() ([]Handle, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	handles := make([]Handle, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || ValidateName(entry.Name()) != nil {
			continue
		}
		handles = append(handles, Handle{Name: entry.Name(), Dir: filepath.Join(l.Root, entry.Name())})
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].Name < handles[j].Name })
	return handles, nil
}
