package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSearchBackend returns a fixed, per-scope hit list regardless of
// query, truncated to the requested limit — enough to drive MLSE's own
// scoring/merge/refresh logic without a real FTS5 index.
type fakeSearchBackend struct {
	hits map[string][]BackendHit
}

func (f *fakeSearchBackend) Search(ctx context.Context, scope, query string, limit int) ([]BackendHit, error) {
	hits := f.hits[scope]
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func newTestEngineWithSearch(t *testing.T, backend SearchBackend) *Engine {
	t.Helper()
	e := newTestEngine(t)
	e.Search = backend
	return e
}

func TestSearchInScopeRequiresBackend(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	_, err := e.SearchInScope(ctx, "", DefaultScopeName, "q", 10)
	require.Error(t, err)
}

func TestSearchInScopeSkipsStaleIndexEntries(t *testing.T) {
	ctx := context.Background()
	backend := &fakeSearchBackend{hits: map[string][]BackendHit{
		DefaultScopeName: {{Key: "mem/ghost", Score: 1.0}},
	}}
	e := newTestEngineWithSearch(t, backend)

	out, err := e.SearchInScope(ctx, "", DefaultScopeName, "q", 10)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSearchInScopeReturnsScoredHitAndBumpsLastAccessed(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	backend := &fakeSearchBackend{hits: map[string][]BackendHit{
		DefaultScopeName: {{Key: "mem/1", Score: 2.0}},
	}}
	e := newTestEngineWithSearch(t, backend)
	e.nowFunc = func() time.Time { return base }

	stale := base.Add(-1000 * time.Hour).UTC().Format(time.RFC3339Nano)
	_, err := e.Remember(ctx, "", "mem/1", []byte("hello"), map[string]any{"last_accessed": stale}, "agent")
	require.NoError(t, err)

	out, err := e.SearchInScope(ctx, "", DefaultScopeName, "hello", 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "mem/1", out[0].Key)
	assert.Equal(t, []byte("hello"), out[0].Content)
	assert.Less(t, out[0].Score, 2.0) // decayed: recency boost < 1 before the refresh below lands

	tree, err := e.Scopes.treeAtBranchTip(ctx, "main")
	require.NoError(t, err)
	h, ok := tree.Lookup("mem/1")
	require.True(t, ok)
	blob, err := e.Store.GetBlob(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, base.UTC().Format(time.RFC3339Nano), blob.Metadata["last_accessed"])
	assert.Equal(t, float64(1), blob.Metadata["access_count"])

	// A second search at the same instant now sees full strength, since
	// last_accessed was just refreshed to "now" — strength only recovers
	// when last_accessed updates (spec.md:342), and it just did.
	out2, err := e.SearchInScope(ctx, "", DefaultScopeName, "hello", 10)
	require.NoError(t, err)
	require.Len(t, out2, 1)
	assert.InDelta(t, 2.0, out2[0].Score, 1e-9)
	assert.Greater(t, out2[0].Score, out[0].Score)
}

func TestSearchScopesMergesWeightedAndTruncates(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	backend := &fakeSearchBackend{hits: map[string][]BackendHit{
		"heavy": {{Key: "mem/heavy", Score: 1.0}},
		"light": {{Key: "mem/light", Score: 1.0}},
	}}
	e := newTestEngineWithSearch(t, backend)
	e.nowFunc = func() time.Time { return base }

	require.NoError(t, e.Scopes.DefineScope(ctx, "", ScopeConfig{
		Name: "heavy", DecayHours: 24, ImportanceMultiplier: 1, SearchWeight: 1.0,
	}, "agent"))
	require.NoError(t, e.Scopes.DefineScope(ctx, "", ScopeConfig{
		Name: "light", DecayHours: 24, ImportanceMultiplier: 1, SearchWeight: 0.1,
	}, "agent"))

	_, err := e.RememberInScope(ctx, "", "heavy", "mem/heavy", []byte("h"), map[string]any{"last_accessed": base.UTC().Format(time.RFC3339Nano)}, "agent")
	require.NoError(t, err)
	_, err = e.RememberInScope(ctx, "", "light", "mem/light", []byte("l"), map[string]any{"last_accessed": base.UTC().Format(time.RFC3339Nano)}, "agent")
	require.NoError(t, err)

	out, err := e.SearchScopes(ctx, "", []string{"heavy", "light"}, "q", 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "mem/heavy", out[0].Key)
}

func TestSearchAllScopesIncludesUnlistedDefaultScope(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	backend := &fakeSearchBackend{hits: map[string][]BackendHit{
		DefaultScopeName: {{Key: "mem/def", Score: 1.0}},
		"journal":        {{Key: "mem/journal", Score: 5.0}},
	}}
	e := newTestEngineWithSearch(t, backend)
	e.nowFunc = func() time.Time { return base }

	require.NoError(t, e.Scopes.DefineScope(ctx, "", ScopeConfig{
		Name: "journal", DecayHours: 24, ImportanceMultiplier: 1, SearchWeight: 1,
	}, "agent"))
	_, err := e.Remember(ctx, "", "mem/def", []byte("d"), map[string]any{"last_accessed": base.UTC().Format(time.RFC3339Nano)}, "agent")
	require.NoError(t, err)
	_, err = e.RememberInScope(ctx, "", "journal", "mem/journal", []byte("j"), map[string]any{"last_accessed": base.UTC().Format(time.RFC3339Nano)}, "agent")
	require.NoError(t, err)

	out, err := e.SearchAllScopes(ctx, "", "q", 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	keys := []string{out[0].Key, out[1].Key}
	assert.Contains(t, keys, "mem/def")
	assert.Contains(t, keys, "mem/journal")
}

func TestSearchInScopeWithNoMatchingTreeLeavesNothingToCommit(t *testing.T) {
	ctx := context.Background()
	backend := &fakeSearchBackend{hits: map[string][]BackendHit{}}
	e := newTestEngineWithSearch(t, backend)

	out, err := e.SearchInScope(ctx, "", DefaultScopeName, "q", 10)
	require.NoError(t, err)
	assert.Empty(t, out)
}
