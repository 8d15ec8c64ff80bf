package vmr

import (
	"context"

	"github.com/thymos-ai/thymos/errs"
)

// Checkout points a workspace's HEAD at branch, refusing the switch if
// there are staged, uncommitted changes (use ResetStage first to discard
// them, matching the familiar git safety rule).
func (r *Repository) Checkout(ctx context.Context, ws, branch string) error {
	target := r.resolveWorkspace(ws)
	unlock := r.wtLocks.lock(target.lockName())
	defer unlock()

	ix, err := r.loadIndex(target)
	if err != nil {
		return err
	}
	if len(ix.Entries) > 0 {
		return errs.E("vmr.Checkout", errs.Validation, "workspace has uncommitted staged changes")
	}
	if !r.refs.branchExists(branch) {
		meta, err := r.loadBranchMeta()
		if err != nil {
			return err
		}
		if m, ok := meta[branch]; !ok || m.Deleted {
			return errs.E("vmr.Checkout", errs.NotFound, "branch not found: "+branch)
		}
		// Branch exists in metadata but is unborn (no commits yet): allowed.
	}

	if err := r.refs.setHead(target.worktreeDir, branch, Hash{}); err != nil {
		return err
	}
	if target.id != "" {
		h, err := r.refs.getBranch(branch)
		if err != nil && !errs.Is(err, errs.NotFound) {
			return err
		}
		return r.updateWorktreeBranch(target.id, branch, h)
	}
	return nil
}

// CheckoutCommit detaches a workspace's HEAD at a specific commit, bypassing
// branch tracking entirely.
func (r *Repository) CheckoutCommit(ctx context.Context, ws string, commit Hash) error {
	target := r.resolveWorkspace(ws)
	unlock := r.wtLocks.lock(target.lockName())
	defer unlock()

	ix, err := r.loadIndex(target)
	if err != nil {
		return err
	}
	if len(ix.Entries) > 0 {
		return errs.E("vmr.CheckoutCommit", errs.Validation, "workspace has uncommitted staged changes")
	}
	if _, err := r.store.GetCommit(ctx, commit); err != nil {
		return err
	}
	if err := r.refs.setHead(target.worktreeDir, "", commit); err != nil {
		return err
	}
	if target.id != "" {
		return r.updateWorktreeBranch(target.id, "", commit)
	}
	return nil
}

func (r *Repository) updateWorktreeBranch(id, branch string, commit Hash) error {
	r.metaMu.Lock()
	defer r.metaMu.Unlock()
	meta, err := r.listWorktreeMeta()
	if err != nil {
		return err
	}
	rec, ok := meta[id]
	if !ok {
		return errs.E("vmr.updateWorktreeBranch", errs.NotFound, "worktree not found: "+id)
	}
	rec.Branch = branch
	rec.Commit = commit
	return r.saveWorktreeMeta(meta)
}
