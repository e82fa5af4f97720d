package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"aperture/internal/aperture"
	"aperture/internal/config"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig("test-server", t.TempDir())
	cfg.Database.Type = "memory"
	cfg.Storage.Type = "memory"
	cfg.Credentials.Algorithm = "sha256"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := NewApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewApp(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, newTestConfig(t))
	creds := aperture.Credentials{DeviceID: "dev1", Secret: aperture.Secret("s3cr3t")}

	if _, err := a.Coordinator().Pair(ctx, aperture.PairRequest{
		Credentials: creds,
		DisplayName: "Phone",
		Platform:    "android:14.0",
	}); err != nil {
		t.Fatalf("Pair() error = %v", err)
	}
	if _, err := a.Coordinator().Push(ctx, aperture.UploadRequest{
		Credentials: creds, RelativePath: "docs", FileName: "a.txt",
	}, strings.NewReader("hello")); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	devices, err := a.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "dev1" {
		t.Errorf("Devices() = %+v, want dev1", devices)
	}

	entries, err := a.Entries(ctx, "dev1")
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 1 || entries[0].FileName != "a.txt" {
		t.Errorf("Entries() = %+v, want a.txt", entries)
	}

	if _, err := a.Entries(ctx, "ghost"); !errors.Is(err, aperture.ErrNotFound) {
		t.Errorf("Entries(unknown) error = %v, want not found", err)
	}
}

func TestNewApp_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "missing server id", mutate: func(c *config.Config) { c.ServerID = "" }},
		{name: "unknown database", mutate: func(c *config.Config) { c.Database.Type = "postgres" }},
		{name: "unknown storage", mutate: func(c *config.Config) { c.Storage.Type = "ftp" }},
		{name: "unknown hash", mutate: func(c *config.Config) { c.Credentials.Algorithm = "md5" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			tt.mutate(cfg)
			a, err := NewApp(context.Background(), cfg)
			if err == nil {
				a.Close()
				t.Fatal("NewApp() error = nil")
			}
		})
	}
}

func TestNewApp_IgnoreRules(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.Storage.Ignore = []string{"*.part"}
	a := newTestApp(t, cfg)
	creds := aperture.Credentials{DeviceID: "dev1", Secret: aperture.Secret("s3cr3t")}
	if _, err := a.Coordinator().Pair(ctx, aperture.PairRequest{Credentials: creds, DisplayName: "Phone", Platform: "ios:17.4"}); err != nil {
		t.Fatalf("Pair() error = %v", err)
	}

	_, err := a.Coordinator().Push(ctx, aperture.UploadRequest{Credentials: creds, FileName: "movie.part"}, strings.NewReader("x"))
	if !errors.Is(err, aperture.ErrValidation) {
		t.Errorf("Push(ignored) error = %v, want validation error", err)
	}
}

func TestLoadIgnoreMatcher(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/etc/aperture/ignore", []byte("*.bak\n# comment\n\ncache/\n"), 0o644); err != nil {
		t.Fatalf("writing ignore file: %v", err)
	}

	m, err := loadIgnoreMatcher(fsys, config.StorageConfig{
		Ignore:     []string{".DS_Store"},
		IgnoreFile: "/etc/aperture/ignore",
	})
	if err != nil {
		t.Fatalf("loadIgnoreMatcher() error = %v", err)
	}

	for path, want := range map[string]bool{
		"photos/.DS_Store":   true,
		"docs/report.bak":    true,
		"docs/report.txt":    false,
		"a/b/.tmp-12345":     true,
		"photos/holiday.jpg": false,
	} {
		if got := m.Match(path); got != want {
			t.Errorf("Match(%q) = %v, want %v", path, got, want)
		}
	}

	t.Run("missing file", func(t *testing.T) {
		m, err := loadIgnoreMatcher(fsys, config.StorageConfig{IgnoreFile: "/nope"})
		if err != nil {
			t.Fatalf("loadIgnoreMatcher() error = %v", err)
		}
		if m.Match("a.txt") {
			t.Error("Match(a.txt) = true with no patterns")
		}
	})
}

func TestHashParams_ConfigDefaults(t *testing.T) {
	cfg := config.NewConfig("server-1", t.TempDir())
	if got, want := hashParams(cfg.Credentials), aperture.DefaultHashParams(); got != want {
		t.Errorf("hashParams(NewConfig().Credentials) = %+v, want %+v", got, want)
	}

	cfg.Credentials = config.CredentialsConfig{Algorithm: "argon2id", Argon2MemoryKiB: 8 * 1024, Argon2Time: 1, Argon2Threads: 1}
	got := hashParams(cfg.Credentials)
	if got.MemoryKiB != 8*1024 || got.Time != 1 {
		t.Errorf("hashParams() = %+v, want the configured cost", got)
	}
}
