package lifecycle

import (
	"context"
	"sort"
	"time"

	"github.com/thymos-ai/thymos/errs"
	"github.com/thymos-ai/thymos/objectstore"
	"github.com/thymos-ai/thymos/vmr"
)

// searchRefreshAuthor attributes the last-access-bump commit a search
// triggers, per §4.3.2/spec.md:176 ("last-access is updated whenever a
// memory is returned from a search or retrieved by id"). Not a real agent
// id — callers never choose it — so it gets its own recognizable value
// rather than an empty string.
const searchRefreshAuthor = "lifecycle:search"

// SearchInScope delegates to the configured SearchBackend restricted to
// scope, then applies the strength (recency) multiplier on top of the
// backend's relevance score, per §4.3.3. Every memory actually returned has
// its last_accessed bumped and committed before SearchInScope returns, so
// strength only recovers for memories a caller has actually retrieved.
func (e *Engine) SearchInScope(ctx context.Context, ws, scope, query string, limit int) ([]ScoredMemory, error) {
	if e.Search == nil {
		return nil, errs.E("lifecycle.SearchInScope", errs.Validation, "no search backend configured")
	}
	branch, err := e.resolveSearchBranch(ctx, ws)
	if err != nil {
		return nil, err
	}
	cfg, err := e.Scopes.ResolveScope(ctx, branch, scope)
	if err != nil {
		return nil, err
	}
	hits, err := e.Search.Search(ctx, scope, query, limit)
	if err != nil {
		return nil, err
	}

	tree, err := e.Scopes.treeAtBranchTip(ctx, branch)
	if err != nil {
		return nil, err
	}

	out := make([]ScoredMemory, 0, len(hits))
	for _, hit := range hits {
		sm, ok, err := e.scoreHit(ctx, tree, hit, cfg, 1.0)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, sm)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].LastAccessed.After(out[j].LastAccessed)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if err := e.touchLastAccessed(ctx, ws, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchScopes performs per-scope search with oversampling, multiplies
// each hit's score by its originating scope's search_weight, merges by
// descending final score (ties by most-recent last_accessed), and
// truncates to limit, per §4.3.3. As with SearchInScope, every memory
// actually returned has its last_accessed bumped and committed before
// SearchScopes returns.
func (e *Engine) SearchScopes(ctx context.Context, ws string, scopes []string, query string, limit int) ([]ScoredMemory, error) {
	if e.Search == nil {
		return nil, errs.E("lifecycle.SearchScopes", errs.Validation, "no search backend configured")
	}
	branch, err := e.resolveSearchBranch(ctx, ws)
	if err != nil {
		return nil, err
	}
	oversample := limit * 2
	if oversample < limit {
		oversample = limit
	}

	tree, err := e.Scopes.treeAtBranchTip(ctx, branch)
	if err != nil {
		return nil, err
	}

	var all []ScoredMemory
	for _, scope := range scopes {
		cfg, err := e.Scopes.ResolveScope(ctx, branch, scope)
		if err != nil {
			return nil, err
		}
		hits, err := e.Search.Search(ctx, scope, query, oversample)
		if err != nil {
			return nil, err
		}
		for _, hit := range hits {
			sm, ok, err := e.scoreHit(ctx, tree, hit, cfg, cfg.SearchWeight)
			if err != nil {
				return nil, err
			}
			if ok {
				all = append(all, sm)
			}
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].LastAccessed.After(all[j].LastAccessed)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	if err := e.touchLastAccessed(ctx, ws, all); err != nil {
		return nil, err
	}
	return all, nil
}

// SearchAllScopes is equivalent to SearchScopes(list_scopes(), query, limit).
func (e *Engine) SearchAllScopes(ctx context.Context, ws, query string, limit int) ([]ScoredMemory, error) {
	branch, err := e.resolveSearchBranch(ctx, ws)
	if err != nil {
		return nil, err
	}
	configs, err := e.Scopes.ListScopes(ctx, branch)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(configs)+1)
	seenDefault := false
	for _, c := range configs {
		names = append(names, c.Name)
		if c.Name == DefaultScopeName {
			seenDefault = true
		}
	}
	if !seenDefault {
		names = append(names, DefaultScopeName)
	}
	return e.SearchScopes(ctx, ws, names, query, limit)
}

// scoreHit resolves a backend hit's blob and computes its breakdown,
// reading the memory's current last_accessed to derive its recency-decayed
// strength. It does not write anything back — persisting the bump a
// returned hit earns (§4.3.2/spec.md:176) is the caller's job, once the
// final, limit-truncated result set is known; see touchLastAccessed. ok is
// false if the key no longer exists in the tree (stale index entry).
func (e *Engine) scoreHit(ctx context.Context, tree *objectstore.MemoryTree, hit BackendHit, cfg ScopeConfig, scopeWeight float64) (ScoredMemory, bool, error) {
	if tree == nil {
		return ScoredMemory{}, false, nil
	}
	h, ok := tree.Lookup(hit.Key)
	if !ok {
		return ScoredMemory{}, false, nil
	}
	blob, err := e.Store.GetBlob(ctx, h)
	if err != nil {
		return ScoredMemory{}, false, err
	}

	meta := metadataToMemoryMeta(blob.Metadata, blob.CreatedAt)
	now := e.now()
	strength := Strength(meta, cfg, e.Config, now)
	importanceBoost := meta.ImportanceScore
	if importanceBoost == 0 {
		importanceBoost = 1.0
	}

	breakdown := ScoreBreakdown{
		BackendScore:    hit.Score,
		RecencyBoost:    strength,
		ImportanceBoost: importanceBoost,
		ScopeWeight:     scopeWeight,
	}

	sm := ScoredMemory{
		Key:          hit.Key,
		Scope:        scopeOf(blob.Metadata),
		Content:      blob.Content,
		Metadata:     blob.Metadata,
		LastAccessed: meta.LastAccessed,
		Score:        breakdown.Final(),
		Breakdown:    breakdown,
	}
	return sm, true, nil
}

// resolveSearchBranch looks up the branch a search's workspace currently
// tracks. An unborn branch is returned by name rather than as an error;
// its tip resolves to no tree, so the search finds nothing.
func (e *Engine) resolveSearchBranch(ctx context.Context, ws string) (string, error) {
	branch, _, err := e.Repo.ResolveWorkspaceBranch(ctx, ws)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return branch, nil
		}
		return "", err
	}
	return branch, nil
}

// touchLastAccessed stages a last_accessed (and access_count) bump for
// every memory in hits and commits it in one go, so strength can only
// recover for memories a caller actually retrieved (spec.md:342's
// "increases only when last_accessed updates"). Routed through
// commitWithRetention like every other mutating Engine call, so a search
// that revives a memory's strength can still trigger eviction of
// now-relatively-weaker memories in the same scope, consistent with
// retention being enforced at commit time rather than swept separately.
func (e *Engine) touchLastAccessed(ctx context.Context, ws string, hits []ScoredMemory) error {
	if len(hits) == 0 {
		return nil
	}
	now := e.now().UTC().Format(time.RFC3339Nano)
	ops := make([]vmr.StageOp, 0, len(hits))
	for _, hit := range hits {
		meta := make(map[string]any, len(hit.Metadata)+2)
		for k, v := range hit.Metadata {
			meta[k] = v
		}
		meta["last_accessed"] = now
		if ac, ok := meta["access_count"].(float64); ok {
			meta["access_count"] = ac + 1
		} else {
			meta["access_count"] = 1.0
		}
		ops = append(ops, vmr.StageOp{Key: hit.Key, Kind: vmr.OpModify, Content: hit.Content, Metadata: meta})
	}
	if err := e.Repo.Stage(ctx, ws, ops); err != nil {
		return err
	}
	commit, err := e.commitWithRetention(ctx, ws, searchRefreshAuthor, "search: refresh last-access")
	if err != nil {
		return err
	}
	for _, deleted := range commit.ChangeSummary.Deleted {
		e.removeFromIndex(ctx, deleted) // retention may have evicted others in this commit
	}
	return nil
}
