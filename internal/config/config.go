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

// Config represents the complete indexd configuration.
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	Root     string         `yaml:"root" json:"root"`
	Broker   BrokerConfig   `yaml:"broker" json:"broker"`
	Daemon   DaemonConfig   `yaml:"daemon" json:"daemon"`
	Registry RegistryConfig `yaml:"registry" json:"registry"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	Watcher  WatcherConfig  `yaml:"watcher" json:"watcher"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// BrokerConfig configures the handle broker.
type BrokerConfig struct {
	// MaxOpenHandles bounds the number of simultaneously open indexes.
	// When exceeded, the least recently used handle is closed.
	MaxOpenHandles int `yaml:"max_open_handles" json:"max_open_handles"`

	// OpenTimeout bounds a single index open. "0" disables the bound.
	OpenTimeout string `yaml:"open_timeout" json:"open_timeout"`

	// ShutdownGrace is how long Shutdown waits for open handles to
	// drain before giving up.
	ShutdownGrace string `yaml:"shutdown_grace" json:"shutdown_grace"`

	// CreateIfMissing opens paths that do not exist yet as fresh
	// indexes instead of failing.
	CreateIfMissing bool `yaml:"create_if_missing" json:"create_if_missing"`
}

// DaemonConfig configures the admin socket daemon.
type DaemonConfig struct {
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	PIDFile    string `yaml:"pid_file" json:"pid_file"`
}

// RegistryConfig configures the on-disk index registry.
type RegistryConfig struct {
	// Enabled turns the SQLite registry on. Disabled registries cost
	// nothing at runtime.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Path is the SQLite database location. Empty uses
	// <state dir>/registry.db.
	Path string `yaml:"path" json:"path"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	// ListenAddr is the HTTP address serving /metrics. Empty disables
	// the listener; counters are still maintained for tests.
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// WatcherConfig configures the root directory watcher.
type WatcherConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Debounce coalesces bursts of filesystem events (e.g. "500ms").
	Debounce string `yaml:"debounce" json:"debounce"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	// Stderr mirrors log output to stderr in addition to the file.
	Stderr bool `yaml:"stderr" json:"stderr"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	state := defaultStateDir()
	return &Config{
		Version: 1,
		Root:    filepath.Join(state, "indexes"),
		Broker: BrokerConfig{
			MaxOpenHandles:  100,
			OpenTimeout:     "0",
			ShutdownGrace:   "10s",
			CreateIfMissing: true,
		},
		Daemon: DaemonConfig{
			SocketPath: filepath.Join(state, "indexd.sock"),
			PIDFile:    filepath.Join(state, "indexd.pid"),
		},
		Registry: RegistryConfig{
			Enabled: true,
			Path:    filepath.Join(state, "registry.db"),
		},
		Metrics: MetricsConfig{
			ListenAddr: "", // Disabled unless configured
		},
		Watcher: WatcherConfig{
			Enabled:  true,
			Debounce: "500ms",
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       filepath.Join(state, "logs", "indexd.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			Stderr:     false,
		},
	}
}

// defaultStateDir returns the directory holding indexd runtime state.
func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to temp directory
		return filepath.Join(os.TempDir(), ".indexd")
	}
	return filepath.Join(home, ".indexd")
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/indexd/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/indexd/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "indexd", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback - should rarely happen
		return filepath.Join(os.TempDir(), ".config", "indexd", "config.yaml")
	}
	return filepath.Join(home, ".config", "indexd", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load loads configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/indexd/config.yaml), or the explicit path
//     when one is given
//  3. Environment variables (INDEXD_*)
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	switch {
	case path != "":
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	case UserConfigExists():
		if err := cfg.loadYAML(GetUserConfigPath()); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// fileConfig mirrors Config for parsing. Booleans are pointers so a
// file can set them to false explicitly; absent fields stay nil and
// keep their defaults.
type fileConfig struct {
	Version  int           `yaml:"version"`
	Root     string        `yaml:"root"`
	Broker   fileBroker    `yaml:"broker"`
	Daemon   DaemonConfig  `yaml:"daemon"`
	Registry fileRegistry  `yaml:"registry"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Watcher  fileWatcher   `yaml:"watcher"`
	Logging  fileLogging   `yaml:"logging"`
}

type fileBroker struct {
	MaxOpenHandles  int    `yaml:"max_open_handles"`
	OpenTimeout     string `yaml:"open_timeout"`
	ShutdownGrace   string `yaml:"shutdown_grace"`
	CreateIfMissing *bool  `yaml:"create_if_missing"`
}

type fileRegistry struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type fileWatcher struct {
	Enabled  *bool  `yaml:"enabled"`
	Debounce string `yaml:"debounce"`
}

type fileLogging struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Stderr     *bool  `yaml:"stderr"`
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeFile(&parsed)
	return nil
}

// mergeFile merges values the file actually set into c.
func (c *Config) mergeFile(f *fileConfig) {
	if f.Version != 0 {
		c.Version = f.Version
	}
	if f.Root != "" {
		c.Root = f.Root
	}

	if f.Broker.MaxOpenHandles != 0 {
		c.Broker.MaxOpenHandles = f.Broker.MaxOpenHandles
	}
	if f.Broker.OpenTimeout != "" {
		c.Broker.OpenTimeout = f.Broker.OpenTimeout
	}
	if f.Broker.ShutdownGrace != "" {
		c.Broker.ShutdownGrace = f.Broker.ShutdownGrace
	}
	if f.Broker.CreateIfMissing != nil {
		c.Broker.CreateIfMissing = *f.Broker.CreateIfMissing
	}

	if f.Daemon.SocketPath != "" {
		c.Daemon.SocketPath = f.Daemon.SocketPath
	}
	if f.Daemon.PIDFile != "" {
		c.Daemon.PIDFile = f.Daemon.PIDFile
	}

	if f.Registry.Enabled != nil {
		c.Registry.Enabled = *f.Registry.Enabled
	}
	if f.Registry.Path != "" {
		c.Registry.Path = f.Registry.Path
	}

	if f.Metrics.ListenAddr != "" {
		c.Metrics.ListenAddr = f.Metrics.ListenAddr
	}

	if f.Watcher.Enabled != nil {
		c.Watcher.Enabled = *f.Watcher.Enabled
	}
	if f.Watcher.Debounce != "" {
		c.Watcher.Debounce = f.Watcher.Debounce
	}

	if f.Logging.Level != "" {
		c.Logging.Level = f.Logging.Level
	}
	if f.Logging.File != "" {
		c.Logging.File = f.Logging.File
	}
	if f.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = f.Logging.MaxSizeMB
	}
	if f.Logging.MaxBackups != 0 {
		c.Logging.MaxBackups = f.Logging.MaxBackups
	}
	if f.Logging.Stderr != nil {
		c.Logging.Stderr = *f.Logging.Stderr
	}
}

// applyEnvOverrides applies INDEXD_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("INDEXD_ROOT"); v != "" {
		c.Root = v
	}
	if v := os.Getenv("INDEXD_MAX_OPEN_HANDLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Broker.MaxOpenHandles = n
		}
	}
	if v := os.Getenv("INDEXD_OPEN_TIMEOUT"); v != "" {
		c.Broker.OpenTimeout = v
	}
	if v := os.Getenv("INDEXD_SOCKET"); v != "" {
		c.Daemon.SocketPath = v
	}
	if v := os.Getenv("INDEXD_PID_FILE"); v != "" {
		c.Daemon.PIDFile = v
	}
	if v := os.Getenv("INDEXD_REGISTRY"); v != "" {
		c.Registry.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("INDEXD_METRICS_ADDR"); v != "" {
		c.Metrics.ListenAddr = v
	}
	if v := os.Getenv("INDEXD_WATCHER"); v != "" {
		c.Watcher.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("INDEXD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("INDEXD_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root must not be empty")
	}

	if c.Broker.MaxOpenHandles <= 0 {
		return fmt.Errorf("broker.max_open_handles must be positive, got %d", c.Broker.MaxOpenHandles)
	}
	if _, err := parseOptionalDuration(c.Broker.OpenTimeout); err != nil {
		return fmt.Errorf("broker.open_timeout: %w", err)
	}
	if _, err := parseOptionalDuration(c.Broker.ShutdownGrace); err != nil {
		return fmt.Errorf("broker.shutdown_grace: %w", err)
	}

	if c.Daemon.SocketPath == "" {
		return fmt.Errorf("daemon.socket_path must not be empty")
	}

	if _, err := parseOptionalDuration(c.Watcher.Debounce); err != nil {
		return fmt.Errorf("watcher.debounce: %w", err)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// OpenTimeout returns the parsed open timeout, 0 when unbounded.
func (c *Config) OpenTimeout() time.Duration {
	d, _ := parseOptionalDuration(c.Broker.OpenTimeout)
	return d
}

// ShutdownGrace returns the parsed shutdown grace period.
func (c *Config) ShutdownGrace() time.Duration {
	d, _ := parseOptionalDuration(c.Broker.ShutdownGrace)
	return d
}

// WatchDebounce returns the parsed watcher debounce interval.
func (c *Config) WatchDebounce() time.Duration {
	d, _ := parseOptionalDuration(c.Watcher.Debounce)
	return d
}

// parseOptionalDuration parses a duration string where "" and "0" mean zero.
func parseOptionalDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative, got %s", s)
	}
	return d, nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
