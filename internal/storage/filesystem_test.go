package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"aperture/internal/aperture"
)

func newTestStores(t *testing.T) map[string]*FileSystemStore {
	t.Helper()

	osStore, err := NewFileSystemStore(afero.NewOsFs(), filepath.Join(t.TempDir(), "content"), 4)
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	return map[string]*FileSystemStore{
		"os":     osStore,
		"memory": NewMemoryStore(4),
	}
}

func readAll(t *testing.T, s *FileSystemStore, location string) string {
	t.Helper()
	rc, _, err := s.Open(context.Background(), location)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading object: %v", err)
	}
	return string(data)
}

func TestFileSystemStore_Put(t *testing.T) {
	ctx := context.Background()

	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("stores under device path", func(t *testing.T) {
				info, err := s.Put(ctx, "dev1/docs/notes.txt", strings.NewReader("hello world"))
				if err != nil {
					t.Fatalf("Put() error = %v", err)
				}
				want := "dev1/docs/notes.txt"
				if info.Location != want {
					t.Errorf("Location = %q, want %q", info.Location, want)
				}
				if info.Size != 11 {
					t.Errorf("Size = %d, want 11", info.Size)
				}
				if info.ModifiedAt.IsZero() || info.AccessedAt.IsZero() {
					t.Error("timestamps not populated")
				}
				if got := readAll(t, s, info.Location); got != "hello world" {
					t.Errorf("content = %q, want %q", got, "hello world")
				}
			})

			t.Run("overwrites existing object", func(t *testing.T) {
				if _, err := s.Put(ctx, "dev1/over.txt", strings.NewReader("first version")); err != nil {
					t.Fatalf("Put() error = %v", err)
				}
				info, err := s.Put(ctx, "dev1/over.txt", strings.NewReader("bye"))
				if err != nil {
					t.Fatalf("Put() error = %v", err)
				}
				if info.Size != 3 {
					t.Errorf("Size = %d, want 3", info.Size)
				}
				if got := readAll(t, s, info.Location); got != "bye" {
					t.Errorf("content = %q, want bye", got)
				}
			})

			t.Run("failed write keeps previous object", func(t *testing.T) {
				info, err := s.Put(ctx, "dev1/keep.txt", strings.NewReader("committed"))
				if err != nil {
					t.Fatalf("Put() error = %v", err)
				}

				broken := io.MultiReader(strings.NewReader("partial"), &failingReader{})
				if _, err := s.Put(ctx, "dev1/keep.txt", broken); err == nil {
					t.Fatal("Put() expected error from failing reader")
				}
				if got := readAll(t, s, info.Location); got != "committed" {
					t.Errorf("content = %q, want committed", got)
				}

				path, err := s.Path(info.Location)
				if err != nil {
					t.Fatalf("Path() error = %v", err)
				}
				entries, err := afero.ReadDir(s.Fs(), filepath.Dir(path))
				if err != nil {
					t.Fatalf("ReadDir() error = %v", err)
				}
				for _, e := range entries {
					if strings.HasPrefix(e.Name(), ".tmp-") {
						t.Errorf("temp file %s left behind", e.Name())
					}
				}
			})

			t.Run("cancelled context aborts write", func(t *testing.T) {
				cctx, cancel := context.WithCancel(ctx)
				cancel()

				_, err := s.Put(cctx, "dev1/cancelled.txt", strings.NewReader("data"))
				if !errors.Is(err, context.Canceled) {
					t.Errorf("Put() error = %v, want context.Canceled", err)
				}
				if _, err := s.Stat(ctx, "dev1/cancelled.txt"); !errors.Is(err, aperture.ErrObjectNotFound) {
					t.Errorf("Stat() error = %v, want ErrObjectNotFound", err)
				}
			})

			t.Run("rejects keys escaping the root", func(t *testing.T) {
				if _, err := s.Put(ctx, "../escape.txt", strings.NewReader("x")); err == nil {
					t.Error("Put() expected error for escaping key")
				}
			})
		})
	}
}

func TestFileSystemStore_Open(t *testing.T) {
	ctx := context.Background()

	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("missing object", func(t *testing.T) {
				_, _, err := s.Open(ctx, "dev1/missing.txt")
				if !errors.Is(err, aperture.ErrObjectNotFound) {
					t.Errorf("Open() error = %v, want ErrObjectNotFound", err)
				}
			})

			t.Run("directory is not an object", func(t *testing.T) {
				if _, err := s.Put(ctx, "dev1/sub/a.txt", strings.NewReader("a")); err != nil {
					t.Fatalf("Put() error = %v", err)
				}
				_, _, err := s.Open(ctx, "dev1/sub")
				if !errors.Is(err, aperture.ErrObjectNotFound) {
					t.Errorf("Open() error = %v, want ErrObjectNotFound", err)
				}
			})

			t.Run("location outside root", func(t *testing.T) {
				for _, location := range []string{"/etc/passwd", "../escape.txt", "dev1/../../escape.txt"} {
					_, _, err := s.Open(ctx, location)
					if err == nil || errors.Is(err, aperture.ErrObjectNotFound) {
						t.Errorf("Open(%q) error = %v, want outside-root error", location, err)
					}
				}
			})

			t.Run("absolute location inside root", func(t *testing.T) {
				if _, err := s.Put(ctx, "dev1/abs.txt", strings.NewReader("abs")); err != nil {
					t.Fatalf("Put() error = %v", err)
				}
				if got := readAll(t, s, filepath.Join(s.Root(), "dev1", "abs.txt")); got != "abs" {
					t.Errorf("content = %q, want abs", got)
				}
			})

			t.Run("reports size", func(t *testing.T) {
				info, err := s.Put(ctx, "dev1/sized.bin", bytes.NewReader(make([]byte, 1000)))
				if err != nil {
					t.Fatalf("Put() error = %v", err)
				}
				rc, got, err := s.Open(ctx, info.Location)
				if err != nil {
					t.Fatalf("Open() error = %v", err)
				}
				rc.Close()
				if got.Size != 1000 {
					t.Errorf("Size = %d, want 1000", got.Size)
				}
			})
		})
	}
}

func TestFileSystemStore_RemovedFile(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "content")
	s, err := NewFileSystemStore(afero.NewOsFs(), root, 0)
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}

	info, err := s.Put(ctx, "dev1/gone.txt", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := os.Remove(filepath.Join(root, "dev1", "gone.txt")); err != nil {
		t.Fatalf("removing file: %v", err)
	}

	if _, err := s.Stat(ctx, info.Location); !errors.Is(err, aperture.ErrObjectNotFound) {
		t.Errorf("Stat() error = %v, want ErrObjectNotFound", err)
	}
}

func TestFileSystemStore_RelocatedRoot(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	oldRoot := filepath.Join(base, "content")
	s, err := NewFileSystemStore(afero.NewOsFs(), oldRoot, 0)
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	info, err := s.Put(ctx, "dev1/docs/notes.txt", strings.NewReader("moved"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	newRoot := filepath.Join(base, "relocated")
	if err := os.Rename(oldRoot, newRoot); err != nil {
		t.Fatalf("moving root: %v", err)
	}
	moved, err := NewFileSystemStore(afero.NewOsFs(), newRoot, 0)
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}

	if got := readAll(t, moved, info.Location); got != "moved" {
		t.Errorf("content = %q, want moved", got)
	}
}

func TestCopyChunks(t *testing.T) {
	tests := []struct {
		name  string
		input string
		size  int
	}{
		{name: "empty", input: "", size: 4},
		{name: "smaller than chunk", input: "abc", size: 4},
		{name: "exact multiple", input: "abcdefgh", size: 4},
		{name: "spans chunks", input: "abcdefghij", size: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := copyChunks(context.Background(), &buf, strings.NewReader(tt.input), tt.size)
			if err != nil {
				t.Fatalf("copyChunks() error = %v", err)
			}
			if n != int64(len(tt.input)) {
				t.Errorf("copyChunks() = %d, want %d", n, len(tt.input))
			}
			if buf.String() != tt.input {
				t.Errorf("copied %q, want %q", buf.String(), tt.input)
			}
		})
	}
}

type failingReader struct{}

func (*failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}
