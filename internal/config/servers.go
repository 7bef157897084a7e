package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefinitionFile is stored in every server directory created by mcpanel.
const DefinitionFile = "mcpanel.yaml"

// ServerDefinition describes how a server was installed
type ServerDefinition struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Loader      string        `json:"loader" yaml:"loader"`
	Version     string        `json:"version" yaml:"version"`
	Runtime     ServerRuntime `json:"runtime" yaml:"runtime"`
	RCONPort    int           `json:"rcon_port" yaml:"rcon_port"`
	CreatedAt   time.Time     `json:"created_at" yaml:"created_at"`
}

// ServerRuntime contains runtime startup options for the server
type ServerRuntime struct {
	JavaXms       string `json:"java_xms,omitempty" yaml:"java_xms,omitempty"`
	JavaXmx       string `json:"java_xmx,omitempty" yaml:"java_xmx,omitempty"`
	ExtraJavaArgs string `json:"extra_java_args,omitempty" yaml:"extra_java_args,omitempty"`
}

var memoryPattern = regexp.MustCompile(`^[0-9]+[KkMmGg]?$`)

// LoadServer reads the definition stored in dir. A directory without one
// (for example an imported pack) returns os.ErrNotExist.
func LoadServer(dir string) (*ServerDefinition, error) {
	data, err := os.ReadFile(filepath.Join(dir, DefinitionFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read server definition: %w", err)
	}

	var def ServerDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse server definition: %w", err)
	}
	if err := ValidateServerDefinition(&def); err != nil {
		return nil, fmt.Errorf("invalid server definition: %w", err)
	}
	return &def, nil
}

// SaveServer writes def into dir
func SaveServer(dir string, def *ServerDefinition) error {
	if err := ValidateServerDefinition(def); err != nil {
		return err
	}
	data, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal server definition: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, DefinitionFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write server definition: %w", err)
	}
	return nil
}

func ValidateServerDefinition(server *ServerDefinition) error {
	if server.ID == "" {
		return fmt.Errorf("server ID is required")
	}
	if server.Name == "" {
		return fmt.Errorf("server name is required")
	}
	if server.Loader == "" {
		server.Loader = "vanilla"
	}
	if server.Version == "" {
		return fmt.Errorf("server version is required")
	}
	if !isValidPath(server.Version) {
		return fmt.Errorf("server version contains invalid characters")
	}
	if server.RCONPort == 0 {
		server.RCONPort = DefaultRCONPort
	}
	if server.RCONPort < 0 || server.RCONPort > 65535 {
		return fmt.Errorf("rcon_port %d out of range", server.RCONPort)
	}
	for _, mem := range []string{server.Runtime.JavaXms, server.Runtime.JavaXmx} {
		if mem != "" && !memoryPattern.MatchString(mem) {
			return fmt.Errorf("invalid memory size %q", mem)
		}
	}
	if server.Runtime.ExtraJavaArgs != "" && !isValidArgs(server.Runtime.ExtraJavaArgs) {
		return fmt.Errorf("extra_java_args contains invalid characters")
	}
	return nil
}

func isValidPath(s string) bool {
	// Block shell metacharacters; values end up in generated launch scripts
	dangerous := ";|&$`()<>\"'\n"
	return !strings.ContainsAny(s, dangerous)
}

func isValidArgs(s string) bool {
	dangerous := ";|&`$()<>\\\n"
	return !strings.ContainsAny(s, dangerous)
}
