package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Properties is an ordered view of a Java-style server.properties file.
// Comments are dropped on write; key order is preserved.
type Properties struct {
	keys   []string
	values map[string]string
}

func NewProperties() *Properties {
	return &Properties{values: make(map[string]string)}
}

// ReadProperties parses path. A missing file yields an empty set.
func ReadProperties(path string) (*Properties, error) {
	props := NewProperties()
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return props, nil
		}
		return nil, fmt.Errorf("failed to open properties: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		props.Set(key, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read properties: %w", err)
	}
	return props, nil
}

func (p *Properties) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Int returns the integer value of key, or def when absent or malformed.
func (p *Properties) Int(key string, def int) int {
	v, ok := p.values[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func (p *Properties) Bool(key string) bool {
	return strings.EqualFold(strings.TrimSpace(p.values[key]), "true")
}

func (p *Properties) Set(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

func (p *Properties) Len() int { return len(p.keys) }

// String renders the properties one key=value per line.
func (p *Properties) String() string {
	var b strings.Builder
	for _, k := range p.keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p.values[k])
		b.WriteByte('\n')
	}
	return b.String()
}

// WriteProperties merges updates into the file at path, creating it if needed.
func WriteProperties(path string, updates map[string]string, order ...string) error {
	props, err := ReadProperties(path)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(order))
	for _, k := range order {
		if v, ok := updates[k]; ok {
			props.Set(k, v)
			seen[k] = true
		}
	}
	for k, v := range updates {
		if !seen[k] {
			props.Set(k, v)
		}
	}
	if err := os.WriteFile(path, []byte(props.String()), 0644); err != nil {
		return fmt.Errorf("failed to write properties: %w", err)
	}
	return nil
}

// EnsureRCONProperties enables RCON and query in server.properties.
func EnsureRCONProperties(path string, port int, password string) error {
	if port <= 0 {
		port = DefaultRCONPort
	}
	if password == "" {
		password = DefaultRCONPassword
	}
	return WriteProperties(path, map[string]string{
		"enable-rcon":   "true",
		"rcon.port":     strconv.Itoa(port),
		"rcon.password": password,
		"enable-query":  "true",
	}, "enable-rcon", "rcon.port", "rcon.password", "enable-query")
}

// RCONSettings returns the RCON values a server.properties file declares,
// falling back to defaults.
func RCONSettings(path string, defaults RCONConfig) (RCONConfig, bool, error) {
	props, err := ReadProperties(path)
	if err != nil {
		return defaults, false, err
	}
	cfg := defaults
	cfg.Port = props.Int("rcon.port", defaults.Port)
	if pw, ok := props.Get("rcon.password"); ok && pw != "" {
		cfg.Password = pw
	}
	return cfg, props.Bool("enable-rcon"), nil
}
