// Package stepfile loads and persists step files with full-document
// read-modify-write semantics.
package stepfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/msageha/des/internal/atomicfile"
	"github.com/msageha/des/internal/lock"
	"github.com/msageha/des/internal/model"
)

var (
	ErrNotFound  = errors.New("step file not found")
	ErrMalformed = errors.New("step file is not valid JSON")
)

// Store is the filesystem port for step files.
type Store struct {
	fs    afero.Fs
	locks *lock.MutexMap
}

func NewStore(fs afero.Fs) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{fs: fs, locks: lock.NewMutexMap()}
}

func (s *Store) Fs() afero.Fs { return s.fs }

func (s *Store) Exists(path string) bool {
	ok, err := afero.Exists(s.fs, path)
	return err == nil && ok
}

// Load reads and decodes path. Missing files wrap ErrNotFound; undecodable
// content wraps ErrMalformed.
func (s *Store) Load(path string) (*model.StepFile, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read step file %s: %w", path, err)
	}
	return Decode(data, path)
}

// Decode parses step file bytes; name is only used in error messages.
func Decode(data []byte, name string) (*model.StepFile, error) {
	var sf model.StepFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}
	return &sf, nil
}

// Encode renders a step file with sorted keys and two-space indentation.
func Encode(sf *model.StepFile) ([]byte, error) {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode step file: %w", err)
	}
	return append(data, '\n'), nil
}

// Save writes sf to path atomically.
func (s *Store) Save(path string, sf *model.StepFile) error {
	s.locks.Lock(lock.PathKey(path))
	defer s.locks.Unlock(lock.PathKey(path))
	return s.save(path, sf)
}

func (s *Store) save(path string, sf *model.StepFile) error {
	data, err := Encode(sf)
	if err != nil {
		return err
	}
	if err := atomicfile.Write(s.fs, path, data, validJSON); err != nil {
		return fmt.Errorf("write step file %s: %w", path, err)
	}
	return nil
}

// Update loads path, applies fn and saves the result while holding the
// per-path lock. When fn returns an error nothing is written.
func (s *Store) Update(path string, fn func(*model.StepFile) error) (*model.StepFile, error) {
	key := lock.PathKey(path)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	sf, err := s.Load(path)
	if err != nil {
		return nil, err
	}
	if err := fn(sf); err != nil {
		return nil, err
	}
	if err := s.save(path, sf); err != nil {
		return nil, err
	}
	return sf, nil
}

func validJSON(content []byte) error {
	if !json.Valid(content) {
		return errors.New("invalid JSON")
	}
	return nil
}
