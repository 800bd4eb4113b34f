package lock

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquire(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := TryAcquire(dir, "daemon")
	require.NoError(t, err)

	pid, ok := Holder(dir, "daemon")
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)

	_, err = TryAcquire(dir, "daemon")
	require.ErrorIs(t, err, ErrHeld)
	assert.Contains(t, err.Error(), "pid")

	other, err := TryAcquire(dir, "other")
	require.NoError(t, err)
	require.NoError(t, other.Release())

	require.NoError(t, l.Release())
	require.NoError(t, l.Release())

	again, err := TryAcquire(dir, "daemon")
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestRelease_Nil(t *testing.T) {
	t.Parallel()

	var l *Lock
	assert.NoError(t, l.Release())
	_, ok := Holder(t.TempDir(), "missing")
	assert.False(t, ok)
}
