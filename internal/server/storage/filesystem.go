package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrBlobNotFound is returned by Get when no blob is stored under the key.
var ErrBlobNotFound = errors.New("blob not found")

// WalkFunc is called once per stored blob.
type WalkFunc func(key string, modTime time.Time) error

// Store defines the interface for blob storage backends. Keys are generated
// by the store and are opaque to callers.
type Store interface {
	Put(ctx context.Context, data io.Reader) (key string, n int64, err error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Walk(ctx context.Context, fn WalkFunc) error
}

// FileSystemStore stores blobs on the local filesystem under
// {basePath}/{key[:2]}/{key}.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0o750); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Put streams data into a temp file, fsyncs it and renames it into place
// under a fresh UUID key. Returns the key and the number of bytes written.
func (fs *FileSystemStore) Put(ctx context.Context, data io.Reader) (string, int64, error) {
	key := uuid.NewString()
	target := fs.filePath(key)

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", 0, fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(fs.basePath, ".upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: data})
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("failed to sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("failed to move blob into place: %w", err)
	}

	return key, n, nil
}

// Get opens the blob for reading. The caller must close it.
func (fs *FileSystemStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if !validKey(key) {
		return nil, ErrBlobNotFound
	}
	f, err := os.Open(fs.filePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to open blob %s: %w", key, err)
	}
	return f, nil
}

// Delete removes the blob. Deleting a missing key is not an error.
func (fs *FileSystemStore) Delete(_ context.Context, key string) error {
	if !validKey(key) {
		return nil
	}
	path := fs.filePath(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", path, err)
	}
	return nil
}

// Walk visits every stored blob. Temp files of in-flight uploads are skipped.
func (fs *FileSystemStore) Walk(ctx context.Context, fn WalkFunc) error {
	err := filepath.WalkDir(fs.basePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") || !validKey(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil // removed concurrently
		}
		return fn(d.Name(), info.ModTime())
	})
	if err != nil {
		return fmt.Errorf("failed to walk storage: %w", err)
	}
	return nil
}

func (fs *FileSystemStore) filePath(key string) string {
	return filepath.Join(fs.basePath, key[:2], key)
}

// validKey guards the filesystem against keys that were not minted here.
func validKey(key string) bool {
	_, err := uuid.Parse(key)
	return err == nil && len(key) == 36
}

// contextReader stops a copy once ctx is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
