package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration for the aperture server.
type Config struct {
	ServerID    string            `toml:"server_id" yaml:"server_id"`
	BaseDir     string            `toml:"base_dir" yaml:"base_dir"`
	LogDir      string            `toml:"log_dir" yaml:"log_dir"`
	LogLevel    string            `toml:"log_level" yaml:"log_level"`
	Server      ServerConfig      `toml:"server" yaml:"server"`
	Database    DatabaseConfig    `toml:"database" yaml:"database"`
	Storage     StorageConfig     `toml:"storage" yaml:"storage"`
	Credentials CredentialsConfig `toml:"credentials" yaml:"credentials"`
	Media       MediaConfig       `toml:"media" yaml:"media"`
	Backup      BackupConfig      `toml:"backup" yaml:"backup"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Listen            string   `toml:"listen" yaml:"listen"`
	PublicURL         string   `toml:"public_url,omitempty" yaml:"public_url,omitempty"` // advertised by pair-info; derived from the outbound address when empty
	MaxUploadBytes    int64    `toml:"max_upload_bytes" yaml:"max_upload_bytes"`         // 0 means unlimited
	ReadHeaderTimeout Duration `toml:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
	Compress          bool     `toml:"compress" yaml:"compress"`
	Metrics           bool     `toml:"metrics" yaml:"metrics"`
}

// DatabaseConfig represents configuration for the ledger database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" yaml:"type"`                             // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty" yaml:"data_dir,omitempty"` // only used for type=sqlite
}

// StorageConfig represents configuration for the content store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StorageConfig struct {
	Type       string   `toml:"type" yaml:"type"` // "filesystem", "memory" or "s3"
	ChunkSize  int      `toml:"chunk_size" yaml:"chunk_size"`
	Ignore     []string `toml:"ignore" yaml:"ignore"`
	IgnoreFile string   `toml:"ignore_file,omitempty" yaml:"ignore_file,omitempty"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty" yaml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty" yaml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty" yaml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty" yaml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty" yaml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty" yaml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty" yaml:"s3_secret_key,omitempty"`
}

// CredentialsConfig selects how device PINs are hashed.
// The PIN is re-verified on every authenticated request, pulls and snapshots
// included, so each request pays one hash. With the argon2id defaults
// (19 MiB, 2 passes) that is roughly 20-50ms of CPU and 19 MiB of memory per
// request; lower argon2_memory_kib/argon2_time or pick "sha256" for busy
// servers. Existing credentials keep the parameters they were created with.
type CredentialsConfig struct {
	Algorithm       string `toml:"algorithm" yaml:"algorithm"` // "argon2id" (default) or "sha256"
	Argon2MemoryKiB uint32 `toml:"argon2_memory_kib" yaml:"argon2_memory_kib"`
	Argon2Time      uint32 `toml:"argon2_time" yaml:"argon2_time"`
	Argon2Threads   uint8  `toml:"argon2_threads" yaml:"argon2_threads"`
}

// MediaConfig controls metadata derived from pushed files.
type MediaConfig struct {
	PerceptualHash bool `toml:"perceptual_hash" yaml:"perceptual_hash"`
}

// BackupConfig holds the age key pair and destination for ledger backups.
type BackupConfig struct {
	Dir            string `toml:"dir" yaml:"dir"`
	PublicKeyPath  string `toml:"public_key_path" yaml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path" yaml:"private_key_path"`
}

// Duration is a time.Duration written as a string such as "10s".
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

// NewConfig creates a new Config with the provided values and default settings.
func NewConfig(serverID, baseDir string) *Config {
	return &Config{
		ServerID: serverID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Server: ServerConfig{
			Listen:            ":8000",
			MaxUploadBytes:    4 << 30,
			ReadHeaderTimeout: Duration{10 * time.Second},
			ShutdownTimeout:   Duration{15 * time.Second},
			Compress:          true,
			Metrics:           true,
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Storage: StorageConfig{
			Type:      "filesystem",
			Root:      filepath.Join(baseDir, "content"),
			ChunkSize: 32 * 1024,
			Ignore:    []string{".DS_Store", "Thumbs.db", "*.part"},
		},
		Credentials: CredentialsConfig{
			Algorithm:       "argon2id",
			Argon2MemoryKiB: 19 * 1024,
			Argon2Time:      2,
			Argon2Threads:   1,
		},
		Media: MediaConfig{PerceptualHash: true},
		Backup: BackupConfig{
			Dir:            filepath.Join(baseDir, "backups"),
			PublicKeyPath:  filepath.Join(baseDir, "keys", "aperture.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "aperture.key"),
		},
	}
}

// Validate checks the fields that every command relies on.
func (c *Config) Validate() error {
	if c.ServerID == "" {
		return fmt.Errorf("server_id is required")
	}
	switch c.Credentials.Algorithm {
	case "", "argon2id", "sha256":
	default:
		return fmt.Errorf("unknown credentials algorithm: %s", c.Credentials.Algorithm)
	}
	if c.Storage.ChunkSize < 0 {
		return fmt.Errorf("storage chunk_size must not be negative")
	}
	if c.Server.MaxUploadBytes < 0 {
		return fmt.Errorf("server max_upload_bytes must not be negative")
	}
	return nil
}

// ExpandPaths replaces a leading ~ in every path setting with the home directory.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{
		&c.BaseDir, &c.LogDir, &c.Database.DataDir, &c.Storage.Root, &c.Storage.IgnoreFile,
		&c.Backup.Dir, &c.Backup.PublicKeyPath, &c.Backup.PrivateKeyPath,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Format selects the encoding of a config file.
type Format int

const (
	FormatTOML Format = iota
	FormatYAML
)

// FormatFor returns the format implied by a file name: YAML for .yaml or .yml, TOML otherwise.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Manager handles reading and writing configuration in one format.
type Manager struct {
	Format Format
}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	switch m.Format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	default:
		if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	switch m.Format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		return enc.Close()
	default:
		if err := toml.NewEncoder(w).Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		return nil
	}
}

// ReadFromFile reads a Config from the specified file path and expands its paths.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{Format: FormatFor(path)}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path, creating its directory.
func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{Format: FormatFor(path)}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes a new config file at path. An existing file is never overwritten.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
