package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spachava753/repowatch/internal/models"
)

// Store loads and persists per-repository watch state as JSON files.
type Store struct{}

// NewStore creates a new state store.
func NewStore() *Store {
	return &Store{}
}

// Load returns the state stored at path. A missing file yields the empty
// state; a malformed file yields a *models.StateCorruptionError.
func (s *Store) Load(path string) (models.WatchState, error) {
	var st models.WatchState

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return st, nil
		}
		return st, fmt.Errorf("reading state file: %w", err)
	}

	if err := json.Unmarshal(data, &st); err != nil {
		return models.WatchState{}, &models.StateCorruptionError{Path: path, Err: err}
	}

	return st, nil
}

// Save writes the state to path atomically: the JSON is written to a temp
// file in the same directory, synced, then renamed over the target.
func (s *Store) Save(path string, st models.WatchState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting state file mode: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing state file: %w", err)
	}

	return nil
}
