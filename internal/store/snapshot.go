package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Snapshotter stores whole serialized documents. Write must keep the
// generation it replaces readable through ReadPrevious.
type Snapshotter interface {
	Read() ([]byte, error)
	ReadPrevious() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// FileSnapshotter keeps the document in a single file and moves the previous
// version to <path>.backup before each overwrite.
type FileSnapshotter struct {
	path string
}

// NewFileSnapshotter returns a snapshotter rooted at path, creating the
// parent directory if needed.
func NewFileSnapshotter(path string) (*FileSnapshotter, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return &FileSnapshotter{path: path}, nil
}

// BackupPath returns the location of the previous generation.
func (f *FileSnapshotter) BackupPath() string { return f.path + ".backup" }

// Read returns the current document, or ErrNoSnapshot if none was written.
func (f *FileSnapshotter) Read() ([]byte, error) {
	return readFile(f.path)
}

// ReadPrevious returns the backup generation.
func (f *FileSnapshotter) ReadPrevious() ([]byte, error) {
	return readFile(f.BackupPath())
}

// Write installs data through a temporary file, rotating the current
// document to the backup path first.
func (f *FileSnapshotter) Write(data []byte) error {
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if _, err := os.Stat(f.path); err == nil {
		if err := os.Rename(f.path, f.BackupPath()); err != nil {
			return fmt.Errorf("rotate backup: %w", err)
		}
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("install snapshot: %w", err)
	}
	return nil
}

// Close is a no-op; the snapshotter holds no open files.
func (f *FileSnapshotter) Close() error { return nil }

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
