package durable

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// BackupPath returns the path of the previous snapshot kept next to path.
func BackupPath(path string) string {
	return path + ".bak"
}

// WriteAtomic replaces path with data without ever exposing a partial file.
//
// Protocol: write a sibling temp file, fsync it, move the current file to
// BackupPath(path), rename the temp file over path, then fsync the parent
// directory. A crash at any point leaves either the new snapshot at path or
// the previous one at path or its backup.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(path, BackupPath(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("rotate backup: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	committed = true

	// best-effort: harden the rename against power loss
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
