package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Home       string           `yaml:"home" json:"home"`
	Runtime    RuntimeConfig    `yaml:"runtime" json:"runtime"`
	Supervisor SupervisorConfig `yaml:"supervisor" json:"supervisor"`
	RCON       RCONConfig       `yaml:"rcon" json:"rcon"`
	Tail       TailConfig       `yaml:"tail" json:"tail"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	API        APIConfig        `yaml:"api" json:"api"`
	Backup     BackupConfig     `yaml:"backup" json:"backup"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	Security   SecurityConfig   `yaml:"security" json:"-"`
	Schedules  []ScheduleConfig `yaml:"schedules" json:"schedules"`
}

// RuntimeConfig controls how server jars are launched
type RuntimeConfig struct {
	JavaBin    string `yaml:"java_bin" json:"java_bin"`
	DefaultXms string `yaml:"default_xms" json:"default_xms"`
	DefaultXmx string `yaml:"default_xmx" json:"default_xmx"`
}

// SupervisorConfig contains process lifecycle timings
type SupervisorConfig struct {
	ConfirmTimeout time.Duration `yaml:"confirm_timeout" json:"confirm_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval" json:"poll_interval"`
	StopGrace      time.Duration `yaml:"stop_grace" json:"stop_grace"`
	RestartSettle  time.Duration `yaml:"restart_settle" json:"restart_settle"`
}

// RCONConfig contains the defaults used when a server does not override them
// in server.properties
type RCONConfig struct {
	Host     string        `yaml:"host" json:"host"`
	Port     int           `yaml:"port" json:"port"`
	Password string        `yaml:"password" json:"-"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// TailConfig contains log follower settings
type TailConfig struct {
	BootBytes    int64         `yaml:"boot_bytes" json:"boot_bytes"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	TrimLimit    int           `yaml:"trim_limit" json:"trim_limit"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// APIConfig contains HTTP server settings
type APIConfig struct {
	Host     string        `yaml:"host" json:"host"`
	Port     int           `yaml:"port" json:"port"`
	Secret   string        `yaml:"secret" json:"-"`
	TokenTTL time.Duration `yaml:"token_ttl" json:"token_ttl"`
	// Users may log in with a password to obtain a token. Tokens can also be
	// minted offline with `mcpanel token`.
	Users []APIUser `yaml:"users" json:"-"`
	// AllowedOrigins lists browser origins allowed to call the API. "*"
	// allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	// LoginRateLimit caps login attempts per client IP per minute. Zero
	// disables the limit.
	LoginRateLimit int       `yaml:"login_rate_limit" json:"login_rate_limit"`
	TLS            TLSConfig `yaml:"tls" json:"tls"`
}

// TLSConfig enables HTTPS for the API. With SelfSigned set, a missing
// certificate pair is generated on first start.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	CertFile   string `yaml:"cert_file" json:"cert_file"`
	KeyFile    string `yaml:"key_file" json:"key_file"`
	SelfSigned bool   `yaml:"self_signed" json:"self_signed"`
}

// BackupConfig controls world backups
type BackupConfig struct {
	// StagingDir holds archives while they are being written.
	StagingDir  string            `yaml:"staging_dir" json:"staging_dir"`
	Retention   int               `yaml:"retention" json:"retention"`
	Compression string            `yaml:"compression" json:"compression"`
	Level       int               `yaml:"level" json:"level"`
	Exclude     []string          `yaml:"exclude" json:"exclude"`
	Destination DestinationConfig `yaml:"destination" json:"destination"`
}

// DestinationConfig selects where backup archives are stored. Secrets may be
// given in the "enc:" form produced by `mcpanel encrypt-secret`.
type DestinationConfig struct {
	Type string `yaml:"type" json:"type"` // local, sftp or s3
	Path string `yaml:"path" json:"path"`

	// SFTP
	Host            string `yaml:"host" json:"host,omitempty"`
	Port            int    `yaml:"port" json:"port,omitempty"`
	Username        string `yaml:"username" json:"username,omitempty"`
	Password        string `yaml:"password" json:"-"`
	KeyPath         string `yaml:"key_path" json:"key_path,omitempty"`
	KnownHostsPath  string `yaml:"known_hosts_path" json:"known_hosts_path,omitempty"`
	TrustOnFirstUse bool   `yaml:"trust_on_first_use" json:"trust_on_first_use,omitempty"`

	// S3 and S3-compatible storage
	Bucket    string `yaml:"bucket" json:"bucket,omitempty"`
	Region    string `yaml:"region" json:"region,omitempty"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	Endpoint  string `yaml:"endpoint" json:"endpoint,omitempty"`
}

// MetricsConfig controls periodic resource sampling while `mcpanel serve`
// runs.
type MetricsConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled"`
	Interval  time.Duration `yaml:"interval" json:"interval"`
	Retention time.Duration `yaml:"retention" json:"retention"`
}

// SecurityConfig holds the key used to decrypt "enc:" secrets.
type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

// APIUser is a login allowed to request tokens from the API
type APIUser struct {
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"password_hash"`
	Roles        []string `yaml:"roles"`
}

// ScheduleConfig triggers a lifecycle action on a cron expression
type ScheduleConfig struct {
	Server string `yaml:"server" json:"server"`
	Cron   string `yaml:"cron" json:"cron"`
	Action string `yaml:"action" json:"action"`
}

const (
	DefaultRCONPassword = "changeme123"
	DefaultRCONPort     = 25575

	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
	ActionBackup  = "backup"

	DestinationLocal = "local"
	DestinationSFTP  = "sftp"
	DestinationS3    = "s3"
)

// Default returns the configuration used before any file or environment
// overrides are applied.
func Default() *Config {
	return &Config{
		Home: defaultHome(),
		Runtime: RuntimeConfig{
			JavaBin:    "java",
			DefaultXms: "1G",
			DefaultXmx: "4G",
		},
		Supervisor: SupervisorConfig{
			ConfirmTimeout: 12 * time.Second,
			PollInterval:   250 * time.Millisecond,
			StopGrace:      time.Second,
			RestartSettle:  500 * time.Millisecond,
		},
		RCON: RCONConfig{
			Host:     "127.0.0.1",
			Port:     DefaultRCONPort,
			Password: DefaultRCONPassword,
			Timeout:  5 * time.Second,
		},
		Tail: TailConfig{
			BootBytes:    64000,
			PollInterval: 250 * time.Millisecond,
			TrimLimit:    2_000_000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     14,
		},
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8765,
			TokenTTL:       12 * time.Hour,
			LoginRateLimit: 10,
		},
		Backup: BackupConfig{
			StagingDir:  "backups/.staging",
			Retention:   7,
			Compression: "gzip",
			Level:       6,
			Exclude:     []string{"logs", "crash-reports", "session.lock"},
			Destination: DestinationConfig{Type: DestinationLocal, Path: "backups"},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Interval:  time.Minute,
			Retention: 7 * 24 * time.Hour,
		},
	}
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	cfg := Default()
	if home := os.Getenv("MCPANEL_HOME"); home != "" {
		cfg.Home = home
	}

	configPath := GetConfigPath(cfg.Home)
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalizePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides file values; the environment always wins.
func (c *Config) applyEnv() error {
	if home := os.Getenv("MCPANEL_HOME"); home != "" {
		c.Home = home
	}
	if javaBin := os.Getenv("JAVA_BIN"); javaBin != "" {
		c.Runtime.JavaBin = javaBin
	}
	if host := os.Getenv("RCON_HOST"); host != "" {
		c.RCON.Host = host
	}
	if port := os.Getenv("RCON_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid RCON_PORT %q: %w", port, err)
		}
		c.RCON.Port = p
	}
	if password := os.Getenv("RCON_PASSWORD"); password != "" {
		c.RCON.Password = password
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if secret := os.Getenv("MCPANEL_API_SECRET"); secret != "" {
		c.API.Secret = secret
	}
	if key := os.Getenv("MCPANEL_ENCRYPTION_KEY"); key != "" {
		c.Security.EncryptionKey = key
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Home) == "" {
		return fmt.Errorf("home directory must be set")
	}
	if c.RCON.Port <= 0 || c.RCON.Port > 65535 {
		return fmt.Errorf("rcon port %d out of range", c.RCON.Port)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api port %d out of range", c.API.Port)
	}
	if c.Tail.BootBytes < 0 || c.Tail.TrimLimit < 0 {
		return fmt.Errorf("tail limits must not be negative")
	}
	// Check for unexpanded environment variables
	if strings.HasPrefix(c.API.Secret, "${") {
		return fmt.Errorf("api secret contains unexpanded environment variable")
	}
	for i, u := range c.API.Users {
		if strings.TrimSpace(u.Username) == "" || u.PasswordHash == "" {
			return fmt.Errorf("api.users[%d]: username and password_hash are required", i)
		}
	}
	for i, s := range c.Schedules {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("schedules[%d]: %w", i, err)
		}
	}
	if err := c.Backup.Validate(); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	if c.API.TLS.Enabled && !c.API.TLS.SelfSigned && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		return fmt.Errorf("api.tls requires cert_file and key_file unless self_signed is set")
	}
	return nil
}

// Validate checks the backup settings.
func (b BackupConfig) Validate() error {
	if b.Retention < 0 {
		return fmt.Errorf("retention must not be negative")
	}
	switch strings.ToLower(b.Compression) {
	case "", "gzip", "none":
	default:
		return fmt.Errorf("unsupported compression %q", b.Compression)
	}
	d := b.Destination
	switch d.Type {
	case DestinationLocal:
	case DestinationSFTP:
		if d.Host == "" || d.Username == "" {
			return fmt.Errorf("sftp destination requires host and username")
		}
		if d.Password == "" && d.KeyPath == "" {
			return fmt.Errorf("sftp destination requires a password or key_path")
		}
	case DestinationS3:
		if d.Bucket == "" {
			return fmt.Errorf("s3 destination requires a bucket")
		}
	default:
		return fmt.Errorf("unsupported destination type %q", d.Type)
	}
	if strings.TrimSpace(d.Path) == "" && d.Type != DestinationS3 {
		return fmt.Errorf("destination path is required")
	}
	return nil
}

// Validate checks a single schedule entry. The cron expression itself is
// parsed by the scheduler.
func (s ScheduleConfig) Validate() error {
	if strings.TrimSpace(s.Server) == "" {
		return fmt.Errorf("server is required")
	}
	if strings.TrimSpace(s.Cron) == "" {
		return fmt.Errorf("cron is required")
	}
	switch s.Action {
	case ActionStart, ActionStop, ActionRestart, ActionBackup:
		return nil
	}
	return fmt.Errorf("unsupported action %q", s.Action)
}

// ServersDir is where server installations live.
func (c *Config) ServersDir() string {
	return filepath.Join(c.Home, "servers")
}

func (c *Config) normalizePaths() {
	c.Home = expandHome(c.Home)
	if abs, err := filepath.Abs(c.Home); err == nil {
		c.Home = abs
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		c.Database.Path = filepath.Join(c.Home, "mcpanel.db")
	}
	c.Database.Path = c.resolve(c.Database.Path)
	if c.Logging.File != "" {
		c.Logging.File = c.resolve(c.Logging.File)
	}
	if c.Backup.StagingDir != "" {
		c.Backup.StagingDir = c.resolve(c.Backup.StagingDir)
	}
	if c.Backup.Destination.Type == DestinationLocal && c.Backup.Destination.Path != "" {
		c.Backup.Destination.Path = c.resolve(c.Backup.Destination.Path)
	}
	if c.Backup.Destination.Type == DestinationSFTP && c.Backup.Destination.KnownHostsPath == "" {
		c.Backup.Destination.KnownHostsPath = "known_hosts"
	}
	for _, p := range []*string{
		&c.Backup.Destination.KeyPath,
		&c.Backup.Destination.KnownHostsPath,
		&c.API.TLS.CertFile,
		&c.API.TLS.KeyFile,
	} {
		if *p != "" {
			*p = c.resolve(*p)
		}
	}
	if c.API.TLS.SelfSigned {
		if c.API.TLS.CertFile == "" {
			c.API.TLS.CertFile = filepath.Join(c.Home, "tls", "server.crt")
		}
		if c.API.TLS.KeyFile == "" {
			c.API.TLS.KeyFile = filepath.Join(c.Home, "tls", "server.key")
		}
	}
}

func (c *Config) resolve(value string) string {
	value = expandHome(strings.TrimSpace(value))
	if filepath.IsAbs(value) {
		return filepath.Clean(value)
	}
	return filepath.Clean(filepath.Join(c.Home, value))
}

// GetConfigPath returns the resolved config path
func GetConfigPath(home string) string {
	if configPath := os.Getenv("MCPANEL_CONFIG"); configPath != "" {
		return configPath
	}
	return filepath.Join(expandHome(home), "config.yaml")
}

// Save writes the configuration back to disk
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mc-panel"
	}
	return filepath.Join(home, ".mc-panel")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
