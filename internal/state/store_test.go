package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spachava753/repowatch/internal/models"
)

func TestLoadMissingFileReturnsEmptyState(t *testing.T) {
	s := NewStore()

	st, err := s.Load(filepath.Join(t.TempDir(), "nope", "state.json"))

	require.NoError(t, err)
	assert.True(t, st.IsZero())
}

func TestSaveThenLoad(t *testing.T) {
	s := NewStore()
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.json")
	want := models.WatchState{LatestRelease: "v2.0.0", LatestCommit: "deadbeef"}

	require.NoError(t, s.Save(path, want))

	got, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// file uses the documented keys
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"latest_release": "v2.0.0"`)
	assert.Contains(t, string(raw), `"latest_commit": "deadbeef"`)
}

func TestSaveOverwritesAndLeavesNoTempFiles(t *testing.T) {
	s := NewStore()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	require.NoError(t, s.Save(path, models.WatchState{LatestRelease: "v1"}))
	require.NoError(t, s.Save(path, models.WatchState{LatestRelease: "v2"}))

	got, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.LatestRelease)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must be renamed away")
}

func TestLoadCorruptFile(t *testing.T) {
	s := NewStore()
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := s.Load(path)

	var corrupt *models.StateCorruptionError
	require.True(t, errors.As(err, &corrupt), "expected StateCorruptionError, got %v", err)
	assert.Equal(t, path, corrupt.Path)
	assert.Equal(t, models.ErrStateCorrupted, models.TypeOf(err))
}

func TestLoadOriginalFormat(t *testing.T) {
	s := NewStore()
	path := filepath.Join(t.TempDir(), "repo_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"latest_release": "4.2.3-4.1.3", "latest_commit": "abc"}`), 0644))

	st, err := s.Load(path)

	require.NoError(t, err)
	assert.Equal(t, models.WatchState{LatestRelease: "4.2.3-4.1.3", LatestCommit: "abc"}, st)
}
