// Package storage provides the content stores that hold pushed file bytes.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"aperture/internal/aperture"
)

// DefaultChunkSize is the copy buffer used when none is configured.
const DefaultChunkSize = 32 * 1024

// FileSystemStore keeps objects as files under a root directory:
//
//	<root>/
//	  <device_id>/
//	    <relative_path>/<file_name>
//
// The location of an object is its slash-separated path relative to the root,
// so moving the root keeps every recorded location valid. Absolute locations
// inside the root are also accepted.
type FileSystemStore struct {
	fs        afero.Fs
	root      string
	chunkSize int
}

// NewFileSystemStore creates a store rooted at root on fsys, creating the root if needed.
func NewFileSystemStore(fsys afero.Fs, root string, chunkSize int) (*FileSystemStore, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	root = filepath.Clean(root)
	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating content root: %w", err)
	}
	return &FileSystemStore{fs: fsys, root: root, chunkSize: chunkSize}, nil
}

// NewMemoryStore creates a store backed by an in-memory filesystem. Use in tests.
func NewMemoryStore(chunkSize int) *FileSystemStore {
	s, err := NewFileSystemStore(afero.NewMemMapFs(), "/content", chunkSize)
	if err != nil {
		// MkdirAll on a MemMapFs does not fail.
		panic(err)
	}
	return s
}

// Root returns the directory objects are stored under.
func (s *FileSystemStore) Root() string {
	return s.root
}

// Fs exposes the underlying filesystem.
func (s *FileSystemStore) Fs() afero.Fs {
	return s.fs
}

func (s *FileSystemStore) Put(ctx context.Context, key string, r io.Reader) (*aperture.ObjectInfo, error) {
	dest, location, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := s.writeFile(ctx, dest, r); err != nil {
		return nil, err
	}
	return s.Stat(ctx, location)
}

func (s *FileSystemStore) Open(ctx context.Context, location string) (io.ReadCloser, *aperture.ObjectInfo, error) {
	path, location, err := s.resolve(location)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.fs.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("%s: %w", location, aperture.ErrObjectNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("reading file info: %w", err)
	}
	if stat.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("%s is a directory: %w", location, aperture.ErrObjectNotFound)
	}
	return f, objectInfo(location, stat), nil
}

func (s *FileSystemStore) Stat(_ context.Context, location string) (*aperture.ObjectInfo, error) {
	path, location, err := s.resolve(location)
	if err != nil {
		return nil, err
	}
	stat, err := s.fs.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", location, aperture.ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file info: %w", err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", location, aperture.ErrObjectNotFound)
	}
	return objectInfo(location, stat), nil
}

// Path returns the filesystem path of location.
func (s *FileSystemStore) Path(location string) (string, error) {
	path, _, err := s.resolve(location)
	return path, err
}

// resolve maps a location to its filesystem path and its root-relative form,
// checking that it lies strictly inside the root.
func (s *FileSystemStore) resolve(location string) (string, string, error) {
	path := filepath.FromSlash(location)
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("location %q is outside the content root", location)
	}
	return path, filepath.ToSlash(rel), nil
}

// writeFile streams r into destPath through a temp file in the same directory,
// renamed into place only after every byte is written.
func (s *FileSystemStore) writeFile(ctx context.Context, destPath string, r io.Reader) error {
	dir := filepath.Dir(destPath)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmpFile, err := afero.TempFile(s.fs, dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			s.fs.Remove(tmpPath)
		}
	}()

	if _, err := copyChunks(ctx, tmpFile, r, s.chunkSize); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := s.fs.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}

// copyChunks copies src to dst through a buffer of size bytes, checking ctx
// between chunks.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, size int) (int64, error) {
	buf := make([]byte, size)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
			if w != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func objectInfo(location string, stat os.FileInfo) *aperture.ObjectInfo {
	accessed, created := fileTimes(stat)
	return &aperture.ObjectInfo{
		Location:   location,
		Size:       stat.Size(),
		ModifiedAt: stat.ModTime(),
		AccessedAt: accessed,
		CreatedAt:  created,
	}
}

var _ aperture.ContentStore = (*FileSystemStore)(nil)
