package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemBackend stores objects as files at {basePath}/{bucket}/{key}.
type FilesystemBackend struct {
	basePath string
}

func NewFilesystemBackend(basePath string) *FilesystemBackend {
	return &FilesystemBackend{basePath: basePath}
}

// resolve rejects null bytes, absolute paths and traversal, and returns
// the cleaned path inside basePath.
func (f *FilesystemBackend) resolve(bucket, key string) (string, error) {
	for _, part := range []string{bucket, key} {
		if strings.Contains(part, "\x00") {
			return "", fmt.Errorf("invalid path: null byte not allowed")
		}
		if filepath.IsAbs(part) || (len(part) >= 2 && part[1] == ':') {
			return "", fmt.Errorf("invalid path: absolute paths not allowed")
		}
		clean := filepath.Clean(part)
		if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) ||
			strings.Contains(clean, string(filepath.Separator)+"..") {
			return "", fmt.Errorf("invalid path: %q contains path traversal", part)
		}
	}

	full := filepath.Join(f.basePath, bucket, key)
	rel, err := filepath.Rel(f.basePath, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: path escapes base directory")
	}
	return full, nil
}

// Put writes the object, creating parent directories. The file only
// appears under its final name once fully written.
func (f *FilesystemBackend) Put(_ context.Context, bucket, key string, r io.Reader, _ int64) error {
	fullPath, err := f.resolve(bucket, key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".archive-*")
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("writing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return fmt.Errorf("renaming file: %w", err)
	}
	return nil
}

// Get opens the object. The caller must close it.
func (f *FilesystemBackend) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	fullPath, err := f.resolve(bucket, key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return file, nil
}

// Delete removes the object. Missing objects are not an error.
func (f *FilesystemBackend) Delete(_ context.Context, bucket, key string) error {
	fullPath, err := f.resolve(bucket, key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

func (f *FilesystemBackend) Exists(_ context.Context, bucket, key string) (bool, error) {
	fullPath, err := f.resolve(bucket, key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking file: %w", err)
	}
	return true, nil
}
