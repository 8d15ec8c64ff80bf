package lifecycle

import (
	"context"
	"sort"
	"time"

	"github.com/thymos-ai/thymos/errs"
	"github.com/thymos-ai/thymos/internal/tlog"
	"github.com/thymos-ai/thymos/objectstore"
	"github.com/thymos-ai/thymos/vmr"
)

func tlogWarnIndexFailure(err error) {
	tlog.WarningLog.Printf("lifecycle: search index update failed (non-fatal): %v", err)
}

// Engine is the Memory Lifecycle & Scope Engine: scope registry, decay
// scoring, scope-weighted search, and commit-time retention, all layered
// on top of a vmr.Repository.
type Engine struct {
	Repo     *vmr.Repository
	Store    *objectstore.Store
	Scopes   *Registry
	Search   SearchBackend
	Config   Config
	nowFunc  func() time.Time
}

// SearchBackend is the §6.1 search contract MLSE delegates ranking to.
type SearchBackend interface {
	// Search returns raw backend hits for query restricted to scope,
	// oversampled to at least limit candidates before MLSE applies its own
	// strength/importance/scope-weight multipliers.
	Search(ctx context.Context, scope, query string, limit int) ([]BackendHit, error)
}

// BackendHit is one raw hit from a SearchBackend before MLSE scoring.
type BackendHit struct {
	Key   string
	Score float64
}

// NewEngine constructs an Engine. nowFunc defaults to time.Now; tests may
// override it to make decay computations deterministic.
func NewEngine(repo *vmr.Repository, store *objectstore.Store, backend SearchBackend, cfg Config) *Engine {
	return &Engine{
		Repo:    repo,
		Store:   store,
		Scopes:  NewRegistry(repo, store),
		Search:  backend,
		Config:  cfg,
		nowFunc: time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.nowFunc != nil {
		return e.nowFunc()
	}
	return time.Now()
}

// Remember stages and commits a new memory in the "default" scope, per the
// "remember is remember_in_scope(default, ...)" transparency property.
func (e *Engine) Remember(ctx context.Context, ws, key string, content []byte, metadata map[string]any, author string) (*objectstore.Commit, error) {
	return e.RememberInScope(ctx, ws, DefaultScopeName, key, content, metadata, author)
}

// RememberInScope stages a new (or modified) memory tagged with scope, then
// commits it — applying retention/pruning for that scope in the same
// commit, per §4.3.4's "single commit" expectation.
func (e *Engine) RememberInScope(ctx context.Context, ws, scope, key string, content []byte, metadata map[string]any, author string) (*objectstore.Commit, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["scope"] = scope
	if _, ok := metadata["last_accessed"]; !ok {
		metadata["last_accessed"] = e.now().UTC().Format(time.RFC3339Nano)
	}

	kind := vmr.OpAdd
	existing, err := e.lookupCurrent(ctx, ws, key)
	if err != nil {
		return nil, err
	}
	if existing {
		kind = vmr.OpModify
	}

	if err := e.Repo.Stage(ctx, ws, []vmr.StageOp{{Key: key, Kind: kind, Content: content, Metadata: metadata}}); err != nil {
		return nil, err
	}
	commit, err := e.commitWithRetention(ctx, ws, author, "remember "+key)
	if err != nil {
		return nil, err
	}
	e.indexAfterCommit(ctx, commit, key, scope, string(content))
	return commit, nil
}

// Forget stages a deletion of a memory and commits it.
func (e *Engine) Forget(ctx context.Context, ws, key, author string) (*objectstore.Commit, error) {
	if err := e.Repo.Stage(ctx, ws, []vmr.StageOp{{Key: key, Kind: vmr.OpDelete}}); err != nil {
		return nil, err
	}
	commit, err := e.commitWithRetention(ctx, ws, author, "forget "+key)
	if err != nil {
		return nil, err
	}
	e.removeFromIndex(ctx, key)
	for _, deleted := range commit.ChangeSummary.Deleted {
		if deleted != key {
			e.removeFromIndex(ctx, deleted) // retention may have evicted others in the same commit
		}
	}
	return commit, nil
}

// Indexer is the optional subset of SearchBackend implementations that
// support incremental updates as memories are remembered or forgotten.
// SQLiteBackend implements it; a read-only or externally-fed backend need
// not.
type Indexer interface {
	Index(ctx context.Context, key, scope, text string) error
	Remove(ctx context.Context, key string) error
}

func (e *Engine) indexAfterCommit(ctx context.Context, commit *objectstore.Commit, key, scope, text string) {
	idx, ok := e.Search.(Indexer)
	if !ok {
		return
	}
	if err := idx.Index(ctx, key, scope, text); err != nil {
		tlogWarnIndexFailure(err)
	}
	for _, deleted := range commit.ChangeSummary.Deleted {
		if err := idx.Remove(ctx, deleted); err != nil {
			tlogWarnIndexFailure(err)
		}
	}
}

func (e *Engine) removeFromIndex(ctx context.Context, key string) {
	idx, ok := e.Search.(Indexer)
	if !ok {
		return
	}
	if err := idx.Remove(ctx, key); err != nil {
		tlogWarnIndexFailure(err)
	}
}

func (e *Engine) lookupCurrent(ctx context.Context, ws, key string) (bool, error) {
	branch, _, err := e.Repo.ResolveWorkspaceBranch(ctx, ws)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return false, nil
		}
		return false, err
	}
	tree, err := e.Scopes.treeAtBranchTip(ctx, branch)
	if err != nil {
		return false, err
	}
	if tree == nil {
		return false, nil
	}
	_, ok := tree.Lookup(key)
	return ok, nil
}

// commitWithRetention peeks the pending index, materializes the
// prospective tree, stages additional deletions to bring any
// over-capacity scope back to its max_memories limit, then performs a
// single vmr.Commit so the prune shows up in that commit's
// change_summary.deleted alongside the original staged edits.
func (e *Engine) commitWithRetention(ctx context.Context, ws, author, message string) (*objectstore.Commit, error) {
	branch, baseTree, err := e.prospectiveBranchAndBase(ctx, ws)
	if err != nil {
		return nil, err
	}

	entries, err := e.Repo.StagedEntries(ctx, ws)
	if err != nil {
		return nil, err
	}
	prospective := mergeTreeWithIndex(baseTree, entries)

	evictions, err := e.planRetention(ctx, branch, prospective)
	if err != nil {
		return nil, err
	}
	if len(evictions) > 0 {
		ops := make([]vmr.StageOp, len(evictions))
		for i, key := range evictions {
			ops[i] = vmr.StageOp{Key: key, Kind: vmr.OpDelete}
		}
		if err := e.Repo.Stage(ctx, ws, ops); err != nil {
			return nil, err
		}
	}

	return e.Repo.Commit(ctx, ws, vmr.CommitOpts{Author: author, Message: message})
}

func (e *Engine) prospectiveBranchAndBase(ctx context.Context, ws string) (string, *objectstore.MemoryTree, error) {
	branch, _, err := e.Repo.ResolveWorkspaceBranch(ctx, ws)
	if err != nil && !errs.Is(err, errs.NotFound) {
		return "", nil, err
	}
	if branch == "" {
		return "", nil, nil
	}
	tree, err := e.Scopes.treeAtBranchTip(ctx, branch)
	if err != nil {
		return "", nil, err
	}
	return branch, tree, nil
}

func mergeTreeWithIndex(base *objectstore.MemoryTree, entries []vmr.IndexEntry) map[string]objectstore.Hash {
	merged := map[string]objectstore.Hash{}
	if base != nil {
		for _, te := range base.Entries {
			merged[te.Key] = te.BlobHash
		}
	}
	for _, e := range entries {
		switch e.Kind {
		case vmr.OpAdd, vmr.OpModify:
			merged[e.Key] = e.NewBlobHash
		case vmr.OpDelete:
			delete(merged, e.Key)
		}
	}
	return merged
}

type evictionCandidate struct {
	key       string
	strength  float64
	createdAt time.Time
}

// planRetention returns the keys to evict so every scope with max_memories
// set returns to its limit, per §4.3.4. Ties are broken by oldest
// created_at.
func (e *Engine) planRetention(ctx context.Context, branch string, prospective map[string]objectstore.Hash) ([]string, error) {
	if branch == "" {
		return nil, nil
	}
	byScope := map[string][]evictionCandidate{}
	for key, h := range prospective {
		blob, err := e.Store.GetBlob(ctx, h)
		if err != nil {
			return nil, err
		}
		scope := scopeOf(blob.Metadata)
		meta := metadataToMemoryMeta(blob.Metadata, blob.CreatedAt)
		cfg, err := e.Scopes.ResolveScope(ctx, branch, scope)
		if err != nil {
			return nil, err
		}
		strength := Strength(meta, cfg, e.Config, e.now())
		byScope[scope] = append(byScope[scope], evictionCandidate{key: key, strength: strength, createdAt: meta.CreatedAt})
	}

	var evictions []string
	for scope, candidates := range byScope {
		cfg, err := e.Scopes.ResolveScope(ctx, branch, scope)
		if err != nil {
			return nil, err
		}
		if cfg.MaxMemories == nil || len(candidates) <= *cfg.MaxMemories {
			continue
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].strength != candidates[j].strength {
				return candidates[i].strength < candidates[j].strength
			}
			return candidates[i].createdAt.Before(candidates[j].createdAt)
		})
		overflow := len(candidates) - *cfg.MaxMemories
		for _, c := range candidates[:overflow] {
			evictions = append(evictions, c.key)
		}
	}
	return evictions, nil
}

func metadataToMemoryMeta(metadata map[string]any, createdAt time.Time) MemoryMeta {
	m := MemoryMeta{CreatedAt: createdAt}
	if metadata == nil {
		return m
	}
	if s, ok := metadata["scope"].(string); ok {
		m.Scope = s
	}
	if v, ok := metadata["access_count"].(float64); ok {
		m.AccessCount = int(v)
	}
	if v, ok := metadata["emotional_weight"].(float64); ok {
		m.EmotionalWeight = v
	}
	if v, ok := metadata["importance_score"].(float64); ok {
		m.ImportanceScore = v
	}
	if s, ok := metadata["last_accessed"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			m.LastAccessed = t
		}
	}
	return m
}
