package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thymos-ai/thymos/objectstore"
	"github.com/thymos-ai/thymos/vmr"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	fs, err := objectstore.NewFSBackend(t.TempDir())
	require.NoError(t, err)
	store := objectstore.New(fs)
	repo, err := vmr.Open(t.TempDir(), store)
	require.NoError(t, err)
	return NewEngine(repo, store, nil, DefaultConfig())
}

func TestStrengthDecaysExponentiallyWithHours(t *testing.T) {
	cfg := DefaultConfig()
	scope := DefaultScopeConfig()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	fresh := Strength(MemoryMeta{LastAccessed: now}, scope, cfg, now)
	assert.InDelta(t, 1.0, fresh, 1e-9)

	old := Strength(MemoryMeta{LastAccessed: now.Add(-1000 * time.Hour)}, scope, cfg, now)
	assert.Less(t, old, fresh)
	assert.GreaterOrEqual(t, old, 0.0)
}

func TestStrengthDegradesGracefullyOnMissingTimestamp(t *testing.T) {
	cfg := DefaultConfig()
	scope := DefaultScopeConfig()
	s := Strength(MemoryMeta{}, scope, cfg, time.Now())
	assert.Equal(t, 1.0, s)
}

func TestStrengthIsMonotonicNonIncreasingOverTime(t *testing.T) {
	cfg := DefaultConfig()
	scope := DefaultScopeConfig()
	accessed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s1 := Strength(MemoryMeta{LastAccessed: accessed}, scope, cfg, accessed.Add(10*time.Hour))
	s2 := Strength(MemoryMeta{LastAccessed: accessed}, scope, cfg, accessed.Add(20*time.Hour))
	assert.GreaterOrEqual(t, s1, s2)
}

func TestRememberInScopeIsTransparentForDefault(t *testing.T) {
	ctx := context.Background()
	e1 := newTestEngine(t)
	e2 := newTestEngine(t)

	c1, err := e1.Remember(ctx, "", "mem/1", []byte("hello"), nil, "agent")
	require.NoError(t, err)
	c2, err := e2.RememberInScope(ctx, "", DefaultScopeName, "mem/1", []byte("hello"), nil, "agent")
	require.NoError(t, err)

	assert.Equal(t, c1.ChangeSummary, c2.ChangeSummary)
}

func TestDefineAndGetScope(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	max := 3
	cfg := ScopeConfig{Name: "journal", DecayHours: 48, ImportanceMultiplier: 1.2, SearchWeight: 0.8, MaxMemories: &max}
	require.NoError(t, e.Scopes.DefineScope(ctx, "", cfg, "agent"))

	got, err := e.Scopes.GetScope(ctx, vmr.DefaultBranch, "journal")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cfg.DecayHours, got.DecayHours)
	assert.Equal(t, *cfg.MaxMemories, *got.MaxMemories)
}

func TestDeleteScopeRefusedWhileReferenced(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.Scopes.DefineScope(ctx, "", ScopeConfig{Name: "journal", DecayHours: 24, ImportanceMultiplier: 1, SearchWeight: 1}, "agent"))
	_, err := e.RememberInScope(ctx, "", "journal", "mem/1", []byte("entry"), nil, "agent")
	require.NoError(t, err)

	err = e.Scopes.DeleteScope(ctx, "", vmr.DefaultBranch, "journal", "agent")
	require.Error(t, err)

	_, err = e.Forget(ctx, "", "mem/1", "agent")
	require.NoError(t, err)

	require.NoError(t, e.Scopes.DeleteScope(ctx, "", vmr.DefaultBranch, "journal", "agent"))
}

func TestRetentionPrunesLowestStrengthMemoriesInSingleCommit(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	max := 3
	require.NoError(t, e.Scopes.DefineScope(ctx, "", ScopeConfig{
		Name: "s", DecayHours: 24, ImportanceMultiplier: 1, SearchWeight: 1, MaxMemories: &max,
	}, "agent"))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.nowFunc = func() time.Time { return base }

	// Stage five memories in scope "s" with strictly increasing last-access
	// recency (mem-0 oldest/weakest, mem-4 newest/strongest) and commit once.
	var ops []vmr.StageOp
	for i := 0; i < 5; i++ {
		lastAccessed := base.Add(-time.Duration(4-i) * time.Hour).UTC().Format(time.RFC3339Nano)
		ops = append(ops, vmr.StageOp{
			Key:     keyFor(i),
			Kind:    vmr.OpAdd,
			Content: []byte("memory"),
			Metadata: map[string]any{
				"scope":         "s",
				"last_accessed": lastAccessed,
			},
		})
	}
	require.NoError(t, e.Repo.Stage(ctx, "", ops))
	commit, err := e.commitWithRetention(ctx, "", "agent", "add five")
	require.NoError(t, err)

	assert.Len(t, commit.ChangeSummary.Deleted, 2)
	assert.Contains(t, commit.ChangeSummary.Deleted, keyFor(0))
	assert.Contains(t, commit.ChangeSummary.Deleted, keyFor(1))

	tree, err := e.Store.GetTree(ctx, commit.Tree)
	require.NoError(t, err)
	count := 0
	for _, te := range tree.Entries {
		if te.Key == keyFor(0) || te.Key == keyFor(1) || te.Key == keyFor(2) || te.Key == keyFor(3) || te.Key == keyFor(4) {
			count++
		}
	}
	assert.Equal(t, 3, count)
}

func keyFor(i int) string {
	return "mem/" + string(rune('a'+i))
}
