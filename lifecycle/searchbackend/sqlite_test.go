package searchbackend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestIndexAndSearchRestrictsByScope(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.Index(ctx, "mem/1", "work", "remember the quarterly report deadline"))
	require.NoError(t, b.Index(ctx, "mem/2", "personal", "remember to call the dentist"))

	hits, err := b.Search(ctx, "work", "report", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "mem/1", hits[0].Key)

	hits, err = b.Search(ctx, "personal", "report", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestReindexReplacesText(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.Index(ctx, "mem/1", "work", "original content about widgets"))
	require.NoError(t, b.Index(ctx, "mem/1", "work", "updated content about gadgets"))

	hits, err := b.Search(ctx, "work", "widgets", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = b.Search(ctx, "work", "gadgets", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestRemoveDropsFromIndex(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.Index(ctx, "mem/1", "work", "temporary note"))
	require.NoError(t, b.Remove(ctx, "mem/1"))

	hits, err := b.Search(ctx, "work", "temporary", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
