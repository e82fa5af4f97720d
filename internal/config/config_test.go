package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
)

func testConfig() *Config {
	cfg := NewConfig("server-abc", "/srv/aperture")
	cfg.Storage = StorageConfig{
		Type:      "s3",
		ChunkSize: 65536,
		Ignore:    []string{"*.part", ".thumbnails"},
		S3Bucket:  "media",
		S3Prefix:  "aperture",
		S3Region:  "eu-west-1",
	}
	cfg.Server.ShutdownTimeout = Duration{30 * time.Second}
	return cfg
}

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	for _, format := range []Format{FormatTOML, FormatYAML} {
		original := testConfig()

		var buf bytes.Buffer
		m := &Manager{Format: format}
		if err := m.Write(&buf, original); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		got, err := m.Read(&buf)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}

		if got.ServerID != original.ServerID {
			t.Errorf("ServerID = %q, want %q", got.ServerID, original.ServerID)
		}
		if got.LogDir != original.LogDir {
			t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
		}
		if got.Storage.Type != "s3" || got.Storage.S3Bucket != "media" || got.Storage.S3Region != "eu-west-1" {
			t.Errorf("Storage = %+v", got.Storage)
		}
		if len(got.Storage.Ignore) != 2 {
			t.Errorf("len(Storage.Ignore) = %d, want 2", len(got.Storage.Ignore))
		}
		if got.Server.ShutdownTimeout.Duration != 30*time.Second {
			t.Errorf("Server.ShutdownTimeout = %v, want 30s", got.Server.ShutdownTimeout)
		}
		if got.Credentials.Argon2Threads != 1 {
			t.Errorf("Credentials.Argon2Threads = %d, want 1", got.Credentials.Argon2Threads)
		}
		if !got.Media.PerceptualHash {
			t.Error("Media.PerceptualHash = false, want true")
		}
	}
}

func TestManager_Read(t *testing.T) {
	t.Run("toml durations are strings", func(t *testing.T) {
		input := `
server_id = "s1"
[server]
listen = ":9000"
read_header_timeout = "5s"
`
		got, err := (&Manager{Format: FormatTOML}).Read(strings.NewReader(input))
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if got.Server.Listen != ":9000" {
			t.Errorf("Listen = %q, want :9000", got.Server.Listen)
		}
		if got.Server.ReadHeaderTimeout.Duration != 5*time.Second {
			t.Errorf("ReadHeaderTimeout = %v, want 5s", got.Server.ReadHeaderTimeout)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		input := "server_id: s2\nstorage:\n  type: memory\n  ignore: ['*.tmp']\n"
		got, err := (&Manager{Format: FormatYAML}).Read(strings.NewReader(input))
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if got.ServerID != "s2" || got.Storage.Type != "memory" || len(got.Storage.Ignore) != 1 {
			t.Errorf("Read() = %+v", got)
		}
	})

	t.Run("invalid duration", func(t *testing.T) {
		input := "[server]\nshutdown_timeout = \"soon\"\n"
		if _, err := (&Manager{Format: FormatTOML}).Read(strings.NewReader(input)); err == nil {
			t.Error("Read() expected error for invalid duration")
		}
	})
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("server-1", "/data/aperture")

	if cfg.ServerID != "server-1" {
		t.Errorf("ServerID = %q, want %q", cfg.ServerID, "server-1")
	}
	if cfg.LogDir != "/data/aperture/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/aperture/log")
	}
	if cfg.Storage.Root != "/data/aperture/content" {
		t.Errorf("Storage.Root = %q, want %q", cfg.Storage.Root, "/data/aperture/content")
	}
	if cfg.Backup.PublicKeyPath != "/data/aperture/keys/aperture.pub" {
		t.Errorf("Backup.PublicKeyPath = %q", cfg.Backup.PublicKeyPath)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing server id", mutate: func(c *Config) { c.ServerID = "" }},
		{name: "unknown algorithm", mutate: func(c *Config) { c.Credentials.Algorithm = "md5" }},
		{name: "negative chunk size", mutate: func(c *Config) { c.Storage.ChunkSize = -1 }},
		{name: "negative upload limit", mutate: func(c *Config) { c.Server.MaxUploadBytes = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("s", "/data")
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}
}

func TestConfig_ExpandPaths(t *testing.T) {
	home, err := homedir.Dir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	cfg := NewConfig("s", "~/aperture")
	if err := cfg.ExpandPaths(); err != nil {
		t.Fatalf("ExpandPaths() error = %v", err)
	}
	if cfg.BaseDir != filepath.Join(home, "aperture") {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, filepath.Join(home, "aperture"))
	}
	if cfg.Storage.Root != filepath.Join(home, "aperture", "content") {
		t.Errorf("Storage.Root = %q", cfg.Storage.Root)
	}
}

func TestFormatFor(t *testing.T) {
	tests := map[string]Format{
		"aperture.toml": FormatTOML,
		"aperture.yaml": FormatYAML,
		"aperture.YML":  FormatYAML,
		"aperture":      FormatTOML,
	}
	for path, want := range tests {
		if got := FormatFor(path); got != want {
			t.Errorf("FormatFor(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "aperture.toml")

		if err := Init(path, NewConfig("s1", dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "aperture.toml")
		cfg := NewConfig("s1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	for _, name := range []string{"aperture.toml", "aperture.yaml"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, name)
			cfg := NewConfig("read-test", dir)
			cfg.Database = DatabaseConfig{Type: "memory"}

			if err := Init(path, cfg); err != nil {
				t.Fatalf("Init() error = %v", err)
			}

			got, err := ReadFromFile(path)
			if err != nil {
				t.Fatalf("ReadFromFile() error = %v", err)
			}
			if got.ServerID != "read-test" {
				t.Errorf("ServerID = %q, want %q", got.ServerID, "read-test")
			}
			if got.Database.Type != "memory" {
				t.Errorf("Database.Type = %q, want memory", got.Database.Type)
			}
		})
	}

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/aperture.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
