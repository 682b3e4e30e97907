package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dantte-lp/gotgen/internal/engine"
)

// -------------------------------------------------------------------------
// Profile Store
// -------------------------------------------------------------------------

// Store persists profile descriptors to a JSON file. Every successful
// mutation rewrites the whole file via write-temp-then-rename so a crash
// mid-write never leaves a torn store behind.
type Store struct {
	path string
}

// NewStore opens a store at path. The file need not exist yet; Load
// returns an empty set for a missing file.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// storeFile is the on-disk shape: a versioned wrapper so the format can
// evolve without guessing.
type storeFile struct {
	Version  int               `json:"version"`
	Profiles []*engine.Profile `json:"profiles"`
}

const storeVersion = 1

// ErrStoreVersion indicates a store file written by an incompatible
// release.
var ErrStoreVersion = errors.New("unsupported profile store version")

// LoadProfiles reads all persisted descriptors. A missing file is an
// empty store, not an error.
func (s *Store) LoadProfiles() ([]*engine.Profile, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read profile store %s: %w", s.path, err)
	}

	var f storeFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse profile store %s: %w", s.path, err)
	}

	if f.Version != storeVersion {
		return nil, fmt.Errorf("store %s version %d: %w", s.path, f.Version, ErrStoreVersion)
	}

	return f.Profiles, nil
}

// SaveProfiles atomically replaces the store contents.
func (s *Store) SaveProfiles(profiles []*engine.Profile) error {
	raw, err := json.MarshalIndent(storeFile{
		Version:  storeVersion,
		Profiles: profiles,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile store: %w", err)
	}
	raw = append(raw, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".profiles-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace profile store %s: %w", s.path, err)
	}

	return nil
}
