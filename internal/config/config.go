// Package config holds the TOML configuration for the storewatch service.
// Sub-configs with a `type` field are tagged unions: the type selects which
// of the remaining fields apply. Secrets (DSNs, tokens, cloud credentials)
// come from the environment, never from the file.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full service configuration.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Server     ServerConfig     `toml:"server"`
	Database   DatabaseConfig   `toml:"database"`
	Platform   PlatformConfig   `toml:"platform"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Restore    RestoreConfig    `toml:"restore"`
	Retention  RetentionConfig  `toml:"retention"`
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`
	Signatures SignaturesConfig `toml:"signatures"`
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	Addr            string `toml:"addr"`
	ReadTimeoutSec  int    `toml:"read_timeout_sec"`
	WriteTimeoutSec int    `toml:"write_timeout_sec"`
}

// DatabaseConfig selects the storage backend.
// Tagged union on Type: "sqlite", "memory" or "mysql".
type DatabaseConfig struct {
	Type    string `toml:"type"`
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite

	// MySQL DSN environment variable name (the DSN itself is a secret and
	// never lives in the file). Only used for type=mysql.
	DSNEnv string `toml:"dsn_env,omitempty"`
}

// PlatformConfig points at the commerce platform's admin API.
type PlatformConfig struct {
	// BaseURL overrides the per-storefront default of https://<domain>.
	// Used to point scans at a test server.
	BaseURL string `toml:"base_url,omitempty"`

	APIVersion string `toml:"api_version"`
	TimeoutSec int    `toml:"timeout_sec"`
}

// SchedulerConfig controls the periodic fleet scan.
type SchedulerConfig struct {
	Enabled        bool `toml:"enabled"`
	IntervalMin    int  `toml:"interval_min"`
	BatchSize      int  `toml:"batch_size"`
	BatchPauseSec  int  `toml:"batch_pause_sec"`
	ScanTimeoutMin int  `toml:"scan_timeout_min"`
}

// RestoreConfig paces whole-theme restore writes.
type RestoreConfig struct {
	BatchSize    int `toml:"batch_size"`
	BatchDelayMS int `toml:"batch_delay_ms"`
}

// RetentionConfig controls the history retention sweep.
type RetentionConfig struct {
	Enabled          bool `toml:"enabled"`
	StandardDays     int  `toml:"standard_days"`
	ProfessionalDays int  `toml:"professional_days"`
	ArchiveEnabled   bool `toml:"archive_enabled"`
}

// VaultConfig selects the archive backend used by the retention sweep.
// Tagged union on Type: "memory", "filesystem" or "s3".
type VaultConfig struct {
	Type string `toml:"type"`
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds the age key pair used to encrypt archived content.
// Tagged union on Type: "age" (default), "test" or "none".
type EncryptionConfig struct {
	Type           string `toml:"type"`
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// SignaturesConfig optionally overrides the embedded app signature catalog.
type SignaturesConfig struct {
	Path string `toml:"path,omitempty"`
}

// NewConfig creates a Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeoutSec:  15,
			WriteTimeoutSec: 30,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Platform: PlatformConfig{
			APIVersion: "2024-01",
			TimeoutSec: 30,
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			IntervalMin:    1440,
			BatchSize:      5,
			BatchPauseSec:  10,
			ScanTimeoutMin: 10,
		},
		Restore: RestoreConfig{
			BatchSize:    2,
			BatchDelayMS: 500,
		},
		Retention: RetentionConfig{
			Enabled:          true,
			StandardDays:     7,
			ProfessionalDays: 30,
		},
		Vault: VaultConfig{
			Type:        "filesystem",
			Name:        "archive",
			FSVaultRoot: filepath.Join(baseDir, "archive"),
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "archive.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "archive.key"),
		},
	}
}

// ServerReadTimeout returns the configured read timeout as a duration.
func (c *Config) ServerReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeoutSec) * time.Second
}

// ServerWriteTimeout returns the configured write timeout as a duration.
func (c *Config) ServerWriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutSec) * time.Second
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path. Defaults are
// applied first so a partial file works.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg := NewConfig(filepath.Dir(path))
	if _, err := toml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided
// Config. Fails if a config already exists there.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
