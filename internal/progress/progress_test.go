package progress

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, time.Hour, log.New(io.Discard))
	require.NoError(t, err)
	return s
}

func TestOpenMissingFile(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "progress.yml"))

	_, ok := s.Get("moby-dick")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Line("moby-dick"))
}

func TestSetLineThrottlesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "progress.yml")
	s := openStore(t, path)

	// first change is written straight away
	require.NoError(t, s.SetLine("moby-dick", 3))
	assert.Equal(t, 3, openStore(t, path).Line("moby-dick"))

	// later changes wait for the interval or an explicit save
	require.NoError(t, s.SetLine("moby-dick", 4))
	assert.Equal(t, 3, openStore(t, path).Line("moby-dick"))
	assert.Equal(t, 4, s.Line("moby-dick"))

	require.NoError(t, s.Save())
	assert.Equal(t, 4, openStore(t, path).Line("moby-dick"))
}

func TestComplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.yml")
	s := openStore(t, path)
	require.NoError(t, s.SetLine("b1", 41))

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Complete("b1", at))

	e, ok := openStore(t, path).Get("b1")
	require.True(t, ok)
	assert.Equal(t, 41, e.Line)
	require.NotNil(t, e.Completed)
	assert.True(t, at.Equal(*e.Completed))
}

func TestSetLineAfterCompleteClearsMark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.yml")
	s := openStore(t, path)
	require.NoError(t, s.SetLine("b1", 99))
	require.NoError(t, s.Complete("b1", time.Now()))

	// the same line keeps the mark
	require.NoError(t, s.SetLine("b1", 99))
	e, _ := s.Get("b1")
	assert.NotNil(t, e.Completed)

	require.NoError(t, s.SetLine("b1", 42))
	require.NoError(t, s.Save())

	e, ok := openStore(t, path).Get("b1")
	require.True(t, ok)
	assert.Equal(t, 42, e.Line)
	assert.Nil(t, e.Completed)
}

func TestSaveWithoutChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.yml")
	s := openStore(t, path)

	require.NoError(t, s.Save())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestIgnoresInvalidInput(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "progress.yml"))
	require.NoError(t, s.SetLine("", 4))
	require.NoError(t, s.SetLine("b1", -1))
	_, ok := s.Get("b1")
	assert.False(t, ok)
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.yml")
	require.NoError(t, os.WriteFile(path, []byte("b1: [oops"), 0o600))

	_, err := Open(path, 0, nil)
	assert.Error(t, err)
}
