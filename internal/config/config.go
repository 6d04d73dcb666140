package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Default values written by NewConfig.
const (
	DefaultStaleAfter = 12 * time.Hour
	DefaultQueueSize  = 100
	DefaultRetryMax   = 5
	DefaultRetryBase  = 200 * time.Millisecond
	DefaultLogLevel   = "info"
)

// Config represents the main configuration for niko.
type Config struct {
	BaseDir  string         `toml:"base_dir"`
	Dir      DirConfig      `toml:"dir"`
	Database DatabaseConfig `toml:"database"`
	Log      LogConfig      `toml:"log"`
	Index    IndexConfig    `toml:"index"`
	Watcher  WatcherConfig  `toml:"watcher"`
	Snapshot SnapshotConfig `toml:"snapshot"`
}

// DirConfig describes the tree being indexed.
type DirConfig struct {
	Root           string   `toml:"root"`
	FollowSymlinks bool     `toml:"follow_symlinks"`
	MaxDepth       int      `toml:"max_depth"` // 0 = unlimited
	Ignore         []string `toml:"ignore"`
}

// DatabaseConfig represents configuration for the index database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "postgres"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=postgres
}

// LogConfig controls the log file and its rotation.
type LogConfig struct {
	Dir        string `toml:"dir"`
	Level      string `toml:"level"` // debug, info, warn, error
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// IndexConfig holds the staleness policy.
type IndexConfig struct {
	StaleAfter Duration `toml:"stale_after"`
}

// WatcherConfig tunes the change watcher.
type WatcherConfig struct {
	QueueSize int      `toml:"queue_size"`
	RetryMax  int      `toml:"retry_max"` // negative disables retries
	RetryBase Duration `toml:"retry_base"`
}

// SnapshotConfig controls publishing copies of the index database.
type SnapshotConfig struct {
	Enabled    bool             `toml:"enabled"`
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // for S3-compatible stores
	S3Profile  string `toml:"s3_profile,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for snapshot encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "none"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// Duration is a time.Duration written as a Go duration string ("12h").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// NewConfig creates a new Config indexing root, with data kept under baseDir.
func NewConfig(root, baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		Dir: DirConfig{
			Root:           root,
			FollowSymlinks: true,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Log: LogConfig{
			Dir:        filepath.Join(baseDir, "log"),
			Level:      DefaultLogLevel,
			MaxSizeMB:  50,
			MaxBackups: 7,
			MaxAgeDays: 30,
		},
		Index: IndexConfig{
			StaleAfter: Duration{DefaultStaleAfter},
		},
		Watcher: WatcherConfig{
			QueueSize: DefaultQueueSize,
			RetryMax:  DefaultRetryMax,
			RetryBase: Duration{DefaultRetryBase},
		},
		Snapshot: SnapshotConfig{
			Vault: VaultConfig{
				Type:        "filesystem",
				Name:        "local",
				FSVaultRoot: filepath.Join(baseDir, "vault"),
			},
			Encryption: EncryptionConfig{
				Type:           "age",
				PublicKeyPath:  filepath.Join(baseDir, "keys", "niko.pub"),
				PrivateKeyPath: filepath.Join(baseDir, "keys", "niko.key"),
			},
		},
	}
}

// Validate reports every problem found in the config.
func (c *Config) Validate() error {
	var errs []error

	if c.Dir.Root == "" {
		errs = append(errs, errors.New("dir.root is required"))
	} else if !filepath.IsAbs(c.Dir.Root) {
		errs = append(errs, fmt.Errorf("dir.root must be absolute, got %q", c.Dir.Root))
	}
	if c.Dir.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("dir.max_depth must not be negative, got %d", c.Dir.MaxDepth))
	}

	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			errs = append(errs, errors.New("database.data_dir is required for sqlite"))
		}
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown database.type %q", c.Database.Type))
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}

	if c.Index.StaleAfter.Duration < 0 {
		errs = append(errs, errors.New("index.stale_after must not be negative"))
	}
	if c.Watcher.QueueSize < 0 {
		errs = append(errs, errors.New("watcher.queue_size must not be negative"))
	}
	if c.Watcher.RetryBase.Duration < 0 {
		errs = append(errs, errors.New("watcher.retry_base must not be negative"))
	}

	if c.Snapshot.Enabled {
		switch c.Snapshot.Vault.Type {
		case "memory":
		case "filesystem":
			if c.Snapshot.Vault.FSVaultRoot == "" {
				errs = append(errs, errors.New("snapshot.vault.fs_vault_root is required for filesystem vault"))
			}
		case "s3":
			if c.Snapshot.Vault.S3Bucket == "" {
				errs = append(errs, errors.New("snapshot.vault.s3_bucket is required for s3 vault"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown snapshot.vault.type %q", c.Snapshot.Vault.Type))
		}
		if c.Database.Type == "postgres" {
			errs = append(errs, errors.New("snapshots require a sqlite database"))
		}
	}

	return errors.Join(errs...)
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

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path, creating its directory.
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

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
