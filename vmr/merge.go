package vmr

import (
	"context"
	"time"

	"github.com/thymos-ai/thymos/errs"
	"github.com/thymos-ai/thymos/objectstore"
)

// Merge merges source into target per strategy, following §4.2.4's five
// steps: ancestor detection, change extraction relative to the merge base,
// key-level conflict detection, strategy application, and merge-commit
// creation. Branch-pair locking uses lockTwo so two concurrent merges that
// share a branch can never deadlock against each other.
func (r *Repository) Merge(ctx context.Context, source, target string, strategy MergeStrategy, resolver Resolver, author string) (*MergeResult, error) {
	unlock := r.branchLocks.lockTwo(source, target)
	defer unlock()

	sourceTip, err := r.refs.getBranch(source)
	if err != nil {
		return nil, err
	}
	targetTip, err := r.refs.getBranch(target)
	if err != nil {
		return nil, err
	}

	base, err := r.mergeBase(ctx, sourceTip, targetTip)
	if err != nil {
		return nil, err
	}

	// Step 1: fast-forward / no-op shortcuts.
	if base == targetTip {
		if base == sourceTip {
			return &MergeResult{}, nil // identical tips, nothing to merge
		}
		if err := r.refs.setBranch(target, sourceTip); err != nil {
			return nil, err
		}
		h := sourceTip
		return &MergeResult{FastForward: true, Commit: &h}, nil
	}
	if base == sourceTip {
		return &MergeResult{}, nil // source is already an ancestor of target
	}

	baseTree, sourceTree, targetTree, err := r.loadMergeTrees(ctx, base, sourceTip, targetTip)
	if err != nil {
		return nil, err
	}

	// Step 2: change extraction relative to the merge base.
	deltaSource := diffTrees(baseTree, sourceTree)
	deltaTarget := diffTrees(baseTree, targetTree)

	// Step 3: key-level conflict detection.
	conflicts, resolved := detectConflicts(deltaSource, deltaTarget)

	// Step 4: strategy application.
	var unresolved []Conflict
	for _, c := range conflicts {
		switch strategy {
		case StrategyTheirs:
			resolveFromSide(resolved, c, deltaSource)
		case StrategyOurs:
			resolveFromSide(resolved, c, deltaTarget)
		case StrategyManual:
			unresolved = append(unresolved, c)
		case StrategyAutoMerge:
			if resolver == nil {
				unresolved = append(unresolved, c)
				continue
			}
			blob, deleted, ok := resolver(c)
			if !ok {
				unresolved = append(unresolved, c)
				continue
			}
			if deleted {
				resolved[c.Key] = keyChange{Key: c.Key, Kind: OpDelete}
			} else {
				resolved[c.Key] = keyChange{Key: c.Key, Kind: OpModify, NewHash: blob}
			}
		default:
			return nil, errs.E("vmr.Merge", errs.Validation, "unknown merge strategy")
		}
	}
	if len(unresolved) > 0 {
		return &MergeResult{Conflicts: unresolved}, nil
	}

	// Step 5: merge commit.
	newTree, err := applyChangesToTree(targetTree, resolved)
	if err != nil {
		return nil, err
	}
	treeHash, err := r.store.PutTree(ctx, newTree)
	if err != nil {
		return nil, err
	}

	mergeCommit := &objectstore.Commit{
		Parents:       []Hash{targetTip, sourceTip},
		Author:        author,
		Timestamp:     time.Now().UTC(),
		Message:       "merge " + source + " into " + target,
		Tree:          treeHash,
		ChangeSummary: summarizeChanges(diffTrees(targetTree, newTree)),
	}
	commitHash, err := r.store.PutCommit(ctx, mergeCommit)
	if err != nil {
		return nil, err
	}
	if err := r.refs.setBranch(target, commitHash); err != nil {
		return nil, err
	}
	if err := r.markMerged(source); err != nil {
		return nil, err
	}

	return &MergeResult{Commit: &commitHash}, nil
}

// markMerged flips a branch's sidecar state to Merged, a soft state: the
// branch may still receive further commits per §4.2.6.
func (r *Repository) markMerged(name string) error {
	r.metaMu.Lock()
	defer r.metaMu.Unlock()
	meta, err := r.loadBranchMeta()
	if err != nil {
		return err
	}
	m, ok := meta[name]
	if !ok {
		return nil
	}
	m.Merged = true
	return r.saveBranchMeta(meta)
}

// mergeBase finds the most recent common ancestor of a and b by walking
// the full DAG (all parents, not just first-parent), matching §4.2.4's
// general merge-base requirement (bisect is the one operation restricted
// to first-parent ancestry).
func (r *Repository) mergeBase(ctx context.Context, a, b Hash) (Hash, error) {
	ancestorsA, err := r.ancestorSet(ctx, a)
	if err != nil {
		return Hash{}, err
	}
	ancestorsA[a] = true
	if ancestorsA[b] {
		return b, nil
	}

	// Walk from b toward its ancestors, breadth-first in parent order,
	// returning the first one also in ancestorsA. Since commits
	// form a DAG with no cycles this terminates; ties are broken by taking
	// whichever is discovered first, which is deterministic for a fixed DAG.
	visited := map[Hash]bool{}
	queue := []Hash{b}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if visited[h] {
			continue
		}
		visited[h] = true
		if ancestorsA[h] {
			return h, nil
		}
		c, err := r.store.GetCommit(ctx, h)
		if err != nil {
			return Hash{}, err
		}
		queue = append(queue, c.Parents...)
	}
	return Hash{}, errs.E("vmr.mergeBase", errs.NotFound, "no common ancestor")
}

func (r *Repository) loadMergeTrees(ctx context.Context, base, source, target Hash) (baseTree, sourceTree, targetTree *objectstore.MemoryTree, err error) {
	if baseTree, err = r.treeAt(ctx, base); err != nil {
		return nil, nil, nil, err
	}
	if sourceTree, err = r.treeAt(ctx, source); err != nil {
		return nil, nil, nil, err
	}
	if targetTree, err = r.treeAt(ctx, target); err != nil {
		return nil, nil, nil, err
	}
	return baseTree, sourceTree, targetTree, nil
}

func (r *Repository) treeAt(ctx context.Context, commit Hash) (*objectstore.MemoryTree, error) {
	if commit == (Hash{}) {
		return nil, nil
	}
	c, err := r.store.GetCommit(ctx, commit)
	if err != nil {
		return nil, err
	}
	return r.store.GetTree(ctx, c.Tree)
}

// detectConflicts applies §4.2.4 step 3's three rules and returns the
// conflicting keys plus a pre-seeded "resolved" map containing every
// non-conflicting change from both deltas (conflicting keys are absent
// until a strategy fills them in).
func detectConflicts(deltaSource, deltaTarget map[string]keyChange) ([]Conflict, map[string]keyChange) {
	resolved := map[string]keyChange{}
	var conflicts []Conflict

	for key, sc := range deltaSource {
		tc, inTarget := deltaTarget[key]
		if !inTarget {
			resolved[key] = sc
			continue
		}
		switch {
		case sc.Kind == OpDelete && tc.Kind != OpDelete:
			conflicts = append(conflicts, Conflict{Key: key, Source: sc.OldHash, Target: tc.NewHash, Kind: DeleteModifyConflict})
		case tc.Kind == OpDelete && sc.Kind != OpDelete:
			conflicts = append(conflicts, Conflict{Key: key, Source: sc.NewHash, Target: tc.OldHash, Kind: DeleteModifyConflict})
		case sc.Kind == OpDelete && tc.Kind == OpDelete:
			resolved[key] = keyChange{Key: key, Kind: OpDelete}
		case sc.NewHash == tc.NewHash:
			resolved[key] = sc // identical change on both sides, no conflict
		default:
			conflicts = append(conflicts, Conflict{Key: key, Source: sc.NewHash, Target: tc.NewHash, Kind: ContentConflict})
		}
	}
	for key, tc := range deltaTarget {
		if _, inSource := deltaSource[key]; !inSource {
			resolved[key] = tc
		}
	}
	return conflicts, resolved
}

func resolveFromSide(resolved map[string]keyChange, c Conflict, side map[string]keyChange) {
	if kc, ok := side[c.Key]; ok {
		resolved[c.Key] = kc
	} else {
		// Side has no change recorded for this key (shouldn't happen for a
		// genuine conflict, but fail safe to deleting nothing).
		delete(resolved, c.Key)
	}
}

// applyChangesToTree layers resolved changes onto a base tree (the target
// tree, per §4.2.4 step 5's "combining non-conflicting changes").
func applyChangesToTree(base *objectstore.MemoryTree, changes map[string]keyChange) (*objectstore.MemoryTree, error) {
	merged := map[string]Hash{}
	if base != nil {
		for _, e := range base.Entries {
			merged[e.Key] = e.BlobHash
		}
	}
	for key, c := range changes {
		switch c.Kind {
		case OpAdd, OpModify:
			merged[key] = c.NewHash
		case OpDelete:
			delete(merged, key)
		}
	}
	out := &objectstore.MemoryTree{}
	for k, h := range merged {
		out.Entries = append(out.Entries, objectstore.TreeEntry{Key: k, BlobHash: h})
	}
	return out, nil
}
