// Package config handles configuration loading, validation, and management for keybox.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete keybox configuration.
//
// A Config is not mutated after loading; hot reloads build a fresh value
// and swap the pointer under the Loader's lock.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Keystore configuration for sealed container files.
	Keystore KeystoreConfig `toml:"keystore" json:"keystore" yaml:"keystore"`

	// Passphrase configuration selects how sealing passphrases are collected.
	Passphrase PassphraseConfig `toml:"passphrase" json:"passphrase" yaml:"passphrase"`

	// Derivation configuration provides defaults for path selection.
	Derivation DerivationConfig `toml:"derivation" json:"derivation" yaml:"derivation"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Audit configuration for the key-operation audit trail.
	Audit AuditConfig `toml:"audit" json:"audit" yaml:"audit"`
}

// KeystoreConfig locates sealed container files on disk.
type KeystoreConfig struct {
	// Dir is the directory holding sealed containers.
	Dir string `toml:"dir" json:"dir" yaml:"dir"`

	// Container is the default container file name inside Dir.
	Container string `toml:"container" json:"container" yaml:"container"`

	// BackupOnUpdate keeps a .bak copy when overwriting a container.
	BackupOnUpdate bool `toml:"backup_on_update" json:"backup_on_update" yaml:"backup_on_update"`
}

// PassphraseConfig selects the passphrase source.
type PassphraseConfig struct {
	// Source is the passphrase source: "terminal", "secret-service", or "env".
	Source string `toml:"source" json:"source" yaml:"source"`

	// Confirm requires the passphrase to be entered twice when sealing
	// new key material. It only affects interactive sources.
	Confirm bool `toml:"confirm" json:"confirm" yaml:"confirm"`

	// EnvVar is the environment variable read when Source is "env".
	EnvVar string `toml:"env_var" json:"env_var" yaml:"env_var"`

	// ServiceAttributes are the lookup attributes used when Source is
	// "secret-service".
	ServiceAttributes map[string]string `toml:"service_attributes" json:"service_attributes" yaml:"service_attributes"`
}

// DerivationConfig provides default path components for signing commands.
type DerivationConfig struct {
	// Account is the default account index, raw; it is hardened at use.
	Account uint32 `toml:"account" json:"account" yaml:"account"`

	// Role is the default chain role name, e.g. "external" or "staking".
	Role string `toml:"role" json:"role" yaml:"role"`

	// Index is the default address index.
	Index uint32 `toml:"index" json:"index" yaml:"index"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output includes "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// AuditConfig holds audit trail configuration.
type AuditConfig struct {
	// Enabled determines whether key operations are recorded.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// FilePath is the path to the audit log file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum size before rotation.
	MaxSizeMB int64 `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of audit files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated audit logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := KeyboxDir()

	return &Config{
		Version: Version,
		Keystore: KeystoreConfig{
			Dir:            dir,
			Container:      "key.keybox",
			BackupOnUpdate: true,
		},
		Passphrase: PassphraseConfig{
			Source:  "terminal",
			Confirm: true,
			EnvVar:  "KEYBOX_PASSPHRASE",
			ServiceAttributes: map[string]string{
				"service": "keybox",
			},
		},
		Derivation: DerivationConfig{
			Account: 0,
			Role:    "external",
			Index:   0,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "keybox.log"),
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Audit: AuditConfig{
			Enabled:    true,
			FilePath:   filepath.Join(PlatformLogDir(), "audit.log"),
			MaxSizeMB:  50,
			MaxBackups: 10,
			MaxAgeDays: 90,
			Compress:   true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// KeyboxDir returns the base keybox data directory. KEYBOX_DATA_DIR
// overrides the platform default.
func KeyboxDir() string {
	if envDir := os.Getenv("KEYBOX_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the configuration points at.
// The keystore directory holds sealed key material and is created private.
func (c *Config) EnsureDirectories() error {
	if c.Keystore.Dir != "" {
		if err := os.MkdirAll(c.Keystore.Dir, 0700); err != nil {
			return fmt.Errorf("create keystore directory %s: %w", c.Keystore.Dir, err)
		}
	}

	for _, dir := range []string{
		filepath.Dir(c.Logging.FilePath),
		filepath.Dir(c.Audit.FilePath),
	} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ContainerPath resolves the default container file location.
func (c *Config) ContainerPath() string {
	return filepath.Join(c.Keystore.Dir, c.Keystore.Container)
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with KEYBOX_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	// Keystore overrides
	if v := os.Getenv("KEYBOX_KEYSTORE_DIR"); v != "" {
		c.Keystore.Dir = v
	}
	if v := os.Getenv("KEYBOX_CONTAINER"); v != "" {
		c.Keystore.Container = v
	}

	// Passphrase overrides
	if v := os.Getenv("KEYBOX_PASSPHRASE_SOURCE"); v != "" {
		c.Passphrase.Source = v
	}
	if v := os.Getenv("KEYBOX_PASSPHRASE_ENV"); v != "" {
		c.Passphrase.EnvVar = v
	}

	// Derivation overrides
	if v := os.Getenv("KEYBOX_ACCOUNT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.Derivation.Account = uint32(n)
		}
	}

	// Logging overrides
	if v := os.Getenv("KEYBOX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("KEYBOX_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	// Audit overrides
	if v := os.Getenv("KEYBOX_AUDIT_PATH"); v != "" {
		c.Audit.FilePath = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c

	if c.Passphrase.ServiceAttributes != nil {
		clone.Passphrase.ServiceAttributes = make(map[string]string, len(c.Passphrase.ServiceAttributes))
		for k, v := range c.Passphrase.ServiceAttributes {
			clone.Passphrase.ServiceAttributes[k] = v
		}
	}

	return &clone
}
