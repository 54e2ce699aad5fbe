package ingestion

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalContentStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalContentStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	ref, err := s.Put(context.Background(), "a1", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "uploads", "a1"), ref)

	rc, err := s.Open(ref)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	require.NoError(t, s.Remove(ref))
	require.NoError(t, s.Remove(ref), "removing twice is not an error")
	_, err = s.Open(ref)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalContentStoreStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalContentStore(dir)
	require.NoError(t, err)

	ref, err := s.Put(context.Background(), "../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "passwd"), ref)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}
