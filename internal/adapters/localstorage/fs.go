package localstorage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"snoograb/internal/core/domain"
	"snoograb/internal/core/ports"
)

const probeFileName = ".snoograb-write-probe"

// LocalStorage implements ports.Storage for the local filesystem.
type LocalStorage struct{}

var _ ports.Storage = LocalStorage{}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage() LocalStorage {
	return LocalStorage{}
}

// InitDir creates the output directory and proves it is writable by creating and
// removing a probe file.
func (LocalStorage) InitDir(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir == "" {
		return &domain.FilesystemError{Op: "creating output directory", Path: dir, Err: errors.New("path is empty")}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &domain.FilesystemError{Op: "creating output directory", Path: dir, Err: err}
	}

	probe := filepath.Join(dir, probeFileName)
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return &domain.FilesystemError{Op: "writing to output directory", Path: dir, Err: err}
	}
	if err := os.Remove(probe); err != nil {
		return &domain.FilesystemError{Op: "removing write probe", Path: probe, Err: err}
	}
	return nil
}

// Exists reports whether a regular file exists at path.
func (LocalStorage) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes every given file, ignoring missing ones. All paths are attempted
// even when one fails.
func (LocalStorage) Remove(paths ...string) error {
	var errs []error
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, &domain.FilesystemError{Op: "removing", Path: path, Err: err})
		}
	}
	return errors.Join(errs...)
}
