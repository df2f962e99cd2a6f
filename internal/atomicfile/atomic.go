// Package atomicfile replaces files atomically on an afero filesystem.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Validator checks re-read content before it replaces the target.
type Validator func(content []byte) error

// Write replaces path with content: temp file, sync, re-read validation,
// .bak of the previous version, then rename. A nil validate skips step 2.
func Write(fs afero.Fs, path string, content []byte, validate Validator) error {
	// Step 1: Create temp file and write content
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := afero.TempFile(fs, dir, ".des-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	renamed := false

	defer func() {
		_ = tmp.Close()
		if !renamed {
			_ = fs.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// Step 2: Validate written content by re-reading temp file
	if validate != nil {
		written, err := afero.ReadFile(fs, tmpName)
		if err != nil {
			return fmt.Errorf("read temp file for validation: %w", err)
		}
		if err := validate(written); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}

	// Step 3: Create .bak if original exists
	if _, err := fs.Stat(path); err == nil {
		if err := copyFile(fs, path, path+".bak"); err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat target: %w", err)
	}

	// Step 4: Atomic rename
	if err := fs.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	renamed = true
	return nil
}

func copyFile(fs afero.Fs, src, dst string) error {
	data, err := afero.ReadFile(fs, src)
	if err != nil {
		return err
	}
	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := out.Write(data); err != nil {
		return err
	}
	return out.Sync()
}
