package vmr

import (
	"context"
	"time"

	"github.com/thymos-ai/thymos/errs"
	"github.com/thymos-ai/thymos/objectstore"
)

// CommitOpts carries the caller-supplied fields of a commit that aren't
// derivable from the index.
type CommitOpts struct {
	Author  string
	Message string
}

// Commit materializes a workspace's staged index into a new commit on its
// branch.
//
// The main workspace always resolves its branch tip live (HEAD is a
// symbolic ref, so it is never stale by construction). A worktree instead
// carries a cached base commit, set at creation and refreshed on every
// successful commit; if that cached base no longer matches the branch's
// live tip — because some other workspace advanced the branch first — the
// commit is refused with a Conflict-kind error rather than silently
// clobbering the intervening history.
func (r *Repository) Commit(ctx context.Context, ws string, opts CommitOpts) (*objectstore.Commit, error) {
	target := r.resolveWorkspace(ws)
	unlockWs := r.wtLocks.lock(target.lockName())
	defer unlockWs()

	ix, err := r.loadIndex(target)
	if err != nil {
		return nil, err
	}
	if len(ix.Entries) == 0 {
		return nil, errs.E("vmr.Commit", errs.Validation, "nothing to commit")
	}

	branchName, cachedBase, err := r.branchAndBaseFor(target)
	if err != nil {
		return nil, err
	}

	unlockBranch := r.branchLocks.lock(branchName)
	defer unlockBranch()

	liveTip, err := r.refs.getBranch(branchName)
	if err != nil && !errs.Is(err, errs.NotFound) {
		return nil, err
	}
	// NotFound means the branch is unborn: liveTip stays the zero hash.

	if target.id != "" {
		// Worktree: refuse if another workspace has advanced the branch
		// since this worktree last synced.
		if cachedBase != liveTip {
			return nil, errs.E("vmr.Commit", errs.Conflict, "branch advanced since worktree last synced (stale tip)")
		}
	}
	base := liveTip

	var baseTree *objectstore.MemoryTree
	if base != (objectstore.Hash{}) {
		baseCommit, err := r.store.GetCommit(ctx, base)
		if err != nil {
			return nil, err
		}
		baseTree, err = r.store.GetTree(ctx, baseCommit.Tree)
		if err != nil {
			return nil, err
		}
	}

	newTree, err := applyIndexToTree(baseTree, ix)
	if err != nil {
		return nil, err
	}

	treeHash, err := r.store.PutTree(ctx, newTree)
	if err != nil {
		return nil, err
	}

	changes := diffTrees(baseTree, newTree)
	summary := summarizeChanges(changes)
	// A key staged as Add/Modify and then staged as Delete in the same index
	// never reaches either tree, so the diff misses it; report it as deleted.
	for key, entry := range ix.Entries {
		if entry.Kind != OpDelete || entry.OldBlobHash == (objectstore.Hash{}) {
			continue
		}
		if _, inDiff := changes[key]; !inDiff {
			summary.Deleted = append(summary.Deleted, key)
		}
	}

	commit := &objectstore.Commit{
		Author:        opts.Author,
		Timestamp:     time.Now().UTC(),
		Message:       opts.Message,
		Tree:          treeHash,
		ChangeSummary: summary,
	}
	if base != (objectstore.Hash{}) {
		commit.Parents = []objectstore.Hash{base}
	}

	commitHash, err := r.store.PutCommit(ctx, commit)
	if err != nil {
		return nil, err
	}

	if err := r.refs.setBranch(branchName, commitHash); err != nil {
		return nil, err
	}
	if err := r.saveIndex(target, newIndex()); err != nil {
		return nil, err
	}
	if target.id != "" {
		if err := r.updateWorktreeCommit(target.id, commitHash); err != nil {
			return nil, err
		}
	}

	commit.Hash = commitHash
	return commit, nil
}

// branchAndBaseFor returns the branch a workspace is checked out on and the
// base commit it should compare against for staleness: the worktree's
// cached commit for a worktree, or its own just-resolved live tip for the
// main workspace (trivially always in sync with itself).
func (r *Repository) branchAndBaseFor(ws workspaceRef) (branch string, base objectstore.Hash, err error) {
	if ws.id == "" {
		name, head, err := r.refs.resolveHead(ws.worktreeDir)
		if err != nil {
			return "", objectstore.Hash{}, err
		}
		if name == "" {
			return "", objectstore.Hash{}, errs.E("vmr.Commit", errs.Validation, "main workspace is in a detached state")
		}
		return name, head, nil
	}
	meta, err := r.listWorktreeMeta()
	if err != nil {
		return "", objectstore.Hash{}, err
	}
	rec, ok := meta[ws.id]
	if !ok {
		return "", objectstore.Hash{}, errs.E("vmr.Commit", errs.NotFound, "worktree not found: "+ws.id)
	}
	return rec.Branch, rec.Commit, nil
}

func (r *Repository) updateWorktreeCommit(id string, commit objectstore.Hash) error {
	r.metaMu.Lock()
	defer r.metaMu.Unlock()
	meta, err := r.listWorktreeMeta()
	if err != nil {
		return err
	}
	rec, ok := meta[id]
	if !ok {
		return errs.E("vmr.updateWorktreeCommit", errs.NotFound, "worktree not found: "+id)
	}
	rec.Commit = commit
	return r.saveWorktreeMeta(meta)
}

// applyIndexToTree produces the tree that results from layering a staging
// index's adds/modifies/deletes onto a base tree. Unstaged keys pass
// through unchanged.
func applyIndexToTree(base *objectstore.MemoryTree, ix *Index) (*objectstore.MemoryTree, error) {
	merged := map[string]objectstore.Hash{}
	if base != nil {
		for _, e := range base.Entries {
			merged[e.Key] = e.BlobHash
		}
	}
	for key, entry := range ix.Entries {
		switch entry.Kind {
		case OpAdd, OpModify:
			merged[key] = entry.NewBlobHash
		case OpDelete:
			delete(merged, key)
		default:
			return nil, errs.E("vmr.applyIndexToTree", errs.Validation, "invalid staged op kind for key "+key)
		}
	}
	out := &objectstore.MemoryTree{}
	for k, h := range merged {
		out.Entries = append(out.Entries, objectstore.TreeEntry{Key: k, BlobHash: h})
	}
	return out, nil
}

func summarizeChanges(changes map[string]keyChange) objectstore.ChangeSummary {
	var s objectstore.ChangeSummary
	for _, c := range changes {
		switch c.Kind {
		case OpAdd:
			s.Added = append(s.Added, c.Key)
		case OpModify:
			s.Modified = append(s.Modified, c.Key)
		case OpDelete:
			s.Deleted = append(s.Deleted, c.Key)
		}
	}
	return s
}
