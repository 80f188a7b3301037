package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mockdash/internal/store"
)

func TestMemoryStoreGetSetHas(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v"))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	has, err := s.Has(ctx, "k")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestMemoryStoreSetMany(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := store.SetAll(ctx, s, store.Entry{Key: "a", Value: "1"}, store.Entry{Key: "b", Value: "2"})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestNewFromFilesSeeds(t *testing.T) {
	dir := t.TempDir()
	assert.Zero(t, NewFromFiles(dir).Len(), "missing seed file gives an empty store")

	content := "# header\nalice:dash_airtime=5000\n\nbroken-line\n=novalue\nalice:dash_hidden = 1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed.env"), []byte(content), 0o644))

	s := NewFromFiles(dir)
	assert.Equal(t, 2, s.Len())
	v, _, _ := s.Get(context.Background(), "alice:dash_hidden")
	assert.Equal(t, "1", v)
}
