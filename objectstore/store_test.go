package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thymos-ai/thymos/errs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	fs, err := NewFSBackend(t.TempDir())
	require.NoError(t, err)
	return New(fs)
}

func TestStorePutGetBlobRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	b := &MemoryBlob{
		Content:   []byte("remember the meeting at 3pm"),
		Metadata:  map[string]any{"scope": "default", "importance": 0.8},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	h, err := s.PutBlob(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, h, b.ID)

	got, err := s.GetBlob(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, b.Content, got.Content)
	assert.Equal(t, b.Metadata["scope"], got.Metadata["scope"])
	assert.True(t, b.CreatedAt.Equal(got.CreatedAt))
}

func TestStorePutIsContentAddressedAndIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	b1 := &MemoryBlob{Content: []byte("same"), CreatedAt: time.Unix(0, 0).UTC()}
	b2 := &MemoryBlob{Content: []byte("same"), CreatedAt: time.Unix(0, 0).UTC()}

	h1, err := s.PutBlob(ctx, b1)
	require.NoError(t, err)
	h2, err := s.PutBlob(ctx, b2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "identical content must yield identical hash")
}

func TestStoreGetMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetBlob(ctx, ZeroHash)
	require.Error(t, err)
}

func TestStoreTreeRoundTripAndSortedEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	bh1, err := s.PutBlob(ctx, &MemoryBlob{Content: []byte("a"), CreatedAt: time.Now()})
	require.NoError(t, err)
	bh2, err := s.PutBlob(ctx, &MemoryBlob{Content: []byte("b"), CreatedAt: time.Now()})
	require.NoError(t, err)

	tree := &MemoryTree{Entries: []TreeEntry{
		{Key: "z", BlobHash: bh2},
		{Key: "a", BlobHash: bh1},
	}}
	th, err := s.PutTree(ctx, tree)
	require.NoError(t, err)

	got, err := s.GetTree(ctx, th)
	require.NoError(t, err)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, "a", got.Entries[0].Key, "entries must be canonically sorted by key")
	assert.Equal(t, "z", got.Entries[1].Key)
}

func TestStoreCommitRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	th, err := s.PutTree(ctx, &MemoryTree{})
	require.NoError(t, err)

	c := &Commit{
		Parents:   nil,
		Author:    "agent-1",
		Timestamp: time.Now().UTC(),
		Message:   "initial commit",
		Tree:      th,
	}
	ch, err := s.PutCommit(ctx, c)
	require.NoError(t, err)

	got, err := s.GetCommit(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.Author)
	assert.Equal(t, th, got.Tree)
	assert.False(t, got.IsMerge())
}

func TestStoreGetDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFSBackend(dir)
	require.NoError(t, err)
	s := New(fs)

	h, err := s.PutBlob(ctx, &MemoryBlob{Content: []byte("original"), CreatedAt: time.Now()})
	require.NoError(t, err)

	// Tamper with the stored frame directly on disk, bypassing the
	// backend's idempotent-put shortcut.
	key := h.String()
	path := filepath.Join(dir, "objects", key[:2], key[2:])
	require.NoError(t, os.WriteFile(path, []byte("garbage-that-does-not-hash-to-h"), 0o600))

	_, err = s.GetBlob(ctx, h)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Corruption))
}

func TestStoreIterFiltersByKind(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	bh, err := s.PutBlob(ctx, &MemoryBlob{Content: []byte("x"), CreatedAt: time.Now()})
	require.NoError(t, err)
	th, err := s.PutTree(ctx, &MemoryTree{Entries: []TreeEntry{{Key: "k", BlobHash: bh}}})
	require.NoError(t, err)

	blobs, err := s.Iter(ctx, KindBlob)
	require.NoError(t, err)
	trees, err := s.Iter(ctx, KindTree)
	require.NoError(t, err)

	assert.Contains(t, blobs, bh)
	assert.NotContains(t, trees, bh)
	assert.Contains(t, trees, th)
}
