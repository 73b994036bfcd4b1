package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseFlags(t *testing.T, f Flags) {
	t.Helper()
	ctx := context.Background()

	v, err := f.Get(ctx, KeyCodeInjected)
	require.NoError(t, err)
	assert.False(t, v, "unset flag reads as false")

	require.NoError(t, f.Set(ctx, KeyCodeInjected, true))
	v, err = f.Get(ctx, KeyCodeInjected)
	require.NoError(t, err)
	assert.True(t, v)

	require.NoError(t, f.Set(ctx, KeyCodeInjected, false))
	v, err = f.Get(ctx, KeyCodeInjected)
	require.NoError(t, err)
	assert.False(t, v)
}

func TestMemoryFlags(t *testing.T) {
	m := NewMemory()
	exerciseFlags(t, m)
	assert.Equal(t, 2, m.Writes())
}

func TestSQLiteFlags(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer s.Close()

	exerciseFlags(t, s)
}

func TestSQLiteFlagsPersistAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, KeyCodeInjected, true))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	v, err := reopened.Get(ctx, KeyCodeInjected)
	require.NoError(t, err)
	assert.True(t, v)
}
