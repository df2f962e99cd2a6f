package stepfile

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/msageha/des/internal/lock"
)

// Quarantine moves a corrupted step file into dir as
// <name>.<timestamp>.corrupt and returns the new path.
func (s *Store) Quarantine(path, dir string, now time.Time) (string, error) {
	s.locks.Lock(lock.PathKey(path))
	defer s.locks.Unlock(lock.PathKey(path))
	return s.quarantine(path, dir, now)
}

func (s *Store) quarantine(path, dir string, now time.Time) (string, error) {
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}
	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(path), now.UTC().Format("20060102T150405"))
	dest := filepath.Join(dir, name)
	if err := s.fs.Rename(path, dest); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dest, nil
}

// RestoreFromBackup replaces path with path.bak after checking that the
// backup decodes as a step file.
func (s *Store) RestoreFromBackup(path string) error {
	s.locks.Lock(lock.PathKey(path))
	defer s.locks.Unlock(lock.PathKey(path))
	return s.restore(path)
}

func (s *Store) restore(path string) error {
	bak := path + ".bak"
	content, err := afero.ReadFile(s.fs, bak)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no backup file: %s", bak)
		}
		return fmt.Errorf("read backup: %w", err)
	}
	if _, err := Decode(content, bak); err != nil {
		return fmt.Errorf("backup is also corrupted: %w", err)
	}
	if err := afero.WriteFile(s.fs, path, content, 0o644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}
	return nil
}

// Recover quarantines a corrupted step file and restores its backup. A file
// that still decodes is left alone and reported as not recovered.
func (s *Store) Recover(path, quarantineDir string, now time.Time) (recovered bool, quarantined string, err error) {
	s.locks.Lock(lock.PathKey(path))
	defer s.locks.Unlock(lock.PathKey(path))

	data, err := afero.ReadFile(s.fs, path)
	if err == nil {
		if _, decodeErr := Decode(data, path); decodeErr == nil {
			return false, "", nil
		}
		if quarantined, err = s.quarantine(path, quarantineDir, now); err != nil {
			return false, "", err
		}
	} else if !os.IsNotExist(err) {
		return false, "", fmt.Errorf("read step file %s: %w", path, err)
	}
	if err := s.restore(path); err != nil {
		return false, quarantined, err
	}
	return true, quarantined, nil
}
