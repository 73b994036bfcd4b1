package logutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactKey(t *testing.T) {
	assert.Equal(t, "********", RedactKey("short"))
	assert.Equal(t, "AIza...wxyz", RedactKey("AIzaSyD0123456789wxyz"))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestNewQuietWithoutFileIsNop(t *testing.T) {
	logger, err := New(Options{Quiet: true})
	require.NoError(t, err)
	logger.Info("dropped")
}

func TestFileLoggingWritesToDir(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Options{Quiet: true, EnableFileLogging: true, Dir: dir, Level: "debug"})
	require.NoError(t, err)

	logger.Info("relay started")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "relay started")
}

func TestRotateShiftsArchives(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte("current"), 0600))
	require.NoError(t, os.WriteFile(archiveName(path, 1), []byte("older"), 0600))

	rotate(path)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	first, err := os.ReadFile(archiveName(path, 1))
	require.NoError(t, err)
	assert.Equal(t, "current", string(first))

	second, err := os.ReadFile(archiveName(path, 2))
	require.NoError(t, err)
	assert.Equal(t, "older", string(second))
}

func TestRotatingWriterRecoversAfterFailedReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	w, err := newRotatingWriter(path)
	require.NoError(t, err)
	w.maxSize = 8

	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)

	w.open = func(string) (*os.File, error) { return nil, errors.New("disk full") }
	_, err = w.Write([]byte("second\n"))
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, w.Sync())

	w.open = openLogFile
	_, err = w.Write([]byte("third\n"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "third\n", string(data))

	archived, err := os.ReadFile(archiveName(path, 1))
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(archived))
}
